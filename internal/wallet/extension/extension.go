// Package extension reaches a wallet agent running next to the client, the
// way a browser page reaches an installed wallet extension, using JSON-RPC
// over HTTP.
package extension

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"syscall"
	"time"

	"github.com/google/uuid"

	"web3id/internal/statement"
	"web3id/internal/wallet"
	pkgsync "web3id/pkg/platform/sync"
)

// DefaultEndpoint is where a local wallet agent listens.
const DefaultEndpoint = "http://127.0.0.1:36000/rpc"

// codeUserRejected is the RPC error code a wallet uses when the holder declines.
const codeUserRejected = 4001

const (
	rpcRequestAccounts               = "requestAccounts"
	rpcMostRecentlySelectedAccount   = "getMostRecentlySelectedAccount"
	rpcRequestVerifiablePresentation = "requestVerifiablePresentation"
	rpcSendTransaction               = "sendTransaction"
	transactionTypeRegisterData      = "RegisterData"
	maxResponseBytes                 = 1 << 20
)

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements wallet.Provider against a local wallet agent.
type Provider struct {
	wallet.Broadcaster

	endpoint string
	http     HTTPDoer
	gate     pkgsync.Gate
	logger   *slog.Logger
}

var _ wallet.Provider = (*Provider)(nil)

type Option func(*Provider)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(p *Provider) {
		if doer != nil {
			p.http = doer
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(endpoint string, opts ...Option) *Provider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	p := &Provider{
		endpoint: endpoint,
		http:     &http.Client{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type connectParams struct {
	ChainID string   `json:"chainId"`
	Methods []string `json:"methods"`
}

// Connect asks the agent for account access. A declined prompt yields
// wallet.ErrConnectionRejected, an unreachable agent wallet.ErrProviderNotFound.
func (p *Provider) Connect(ctx context.Context, caps wallet.Capabilities) ([]string, error) {
	leave, ok := p.gate.TryEnter()
	if !ok {
		return nil, wallet.ErrRequestInFlight
	}
	defer leave()

	var accounts []string
	err := p.call(ctx, rpcRequestAccounts, connectParams{ChainID: caps.ChainID(), Methods: caps.Methods}, &accounts)
	if err != nil {
		if errors.Is(err, wallet.ErrUserRejected) {
			return nil, wallet.Rejected(err)
		}
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, wallet.Rejected(errors.New("wallet shared no accounts"))
	}
	p.Publish(accounts[0])
	p.logger.DebugContext(ctx, "wallet agent connected", "account", accounts[0])
	return accounts, nil
}

// RequestVerifiablePresentation validates the request and asks the holder to prove it.
func (p *Provider) RequestVerifiablePresentation(ctx context.Context, challenge string, statements []statement.CredentialStatement) (json.RawMessage, error) {
	params, err := wallet.PresentationParams(challenge, statements)
	if err != nil {
		return nil, err
	}

	leave, ok := p.gate.TryEnter()
	if !ok {
		return nil, wallet.ErrRequestInFlight
	}
	defer leave()

	var result json.RawMessage
	if err := p.call(ctx, rpcRequestVerifiablePresentation, params, &result); err != nil {
		return nil, err
	}
	return decodePresentation(result)
}

type registerDataPayload struct {
	Data string `json:"data"`
}

type sendTransactionParams struct {
	AccountAddress string              `json:"accountAddress"`
	Type           string              `json:"type"`
	Payload        registerDataPayload `json:"payload"`
}

// SendRegisterData sends a data registration transaction from the current account.
func (p *Provider) SendRegisterData(ctx context.Context, data []byte) (string, error) {
	account := p.CurrentAccount()
	if account == "" {
		return "", wallet.ErrNotConnected
	}

	leave, ok := p.gate.TryEnter()
	if !ok {
		return "", wallet.ErrRequestInFlight
	}
	defer leave()

	var hash string
	err := p.call(ctx, rpcSendTransaction, sendTransactionParams{
		AccountAddress: account,
		Type:           transactionTypeRegisterData,
		Payload:        registerDataPayload{Data: hex.EncodeToString(data)},
	}, &hash)
	if err != nil {
		return "", err
	}
	if hash == "" {
		return "", &wallet.DeserializationError{What: "transaction hash", Err: errors.New("empty hash")}
	}
	return hash, nil
}

// Watch polls the agent for the selected account until ctx is done and
// publishes every change. Browser wallets push these; the agent is polled.
func (p *Provider) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var account *string
			if err := p.call(ctx, rpcMostRecentlySelectedAccount, nil, &account); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.WarnContext(ctx, "failed to poll wallet account", "error", err)
				continue
			}
			if account == nil {
				p.Publish("")
			} else {
				p.Publish(*account)
			}
		}
	}
}

// Disconnect forgets the account. The agent keeps its own permissions.
func (p *Provider) Disconnect(context.Context) error {
	p.Publish("")
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (p *Provider) call(ctx context.Context, method string, params, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &wallet.TransportError{Op: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &wallet.TransportError{Op: method, Err: ctx.Err()}
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			return wallet.NotFound(err)
		}
		return &wallet.TransportError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return wallet.NotFound(fmt.Errorf("no wallet agent at %s", p.endpoint))
	case resp.StatusCode != http.StatusOK:
		return &wallet.TransportError{Op: method, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &wallet.TransportError{Op: method, Err: err}
	}
	var envelope rpcResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &wallet.DeserializationError{What: method + " response", Err: err}
	}
	if envelope.Error != nil {
		if envelope.Error.Code == codeUserRejected {
			return fmt.Errorf("%w: %s", wallet.ErrUserRejected, envelope.Error.Message)
		}
		return &wallet.TransportError{Op: method, Err: envelope.Error}
	}
	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 {
		envelope.Result = json.RawMessage("null")
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &wallet.DeserializationError{What: method + " result", Err: err}
	}
	return nil
}

// decodePresentation accepts the presentation as an object or as a JSON
// encoded string of one, which some wallets send.
func decodePresentation(result json.RawMessage) (json.RawMessage, error) {
	var encoded string
	if err := json.Unmarshal(result, &encoded); err == nil {
		result = json.RawMessage(encoded)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(result, &fields); err != nil {
		return nil, &wallet.DeserializationError{What: "verifiable presentation", Err: err}
	}
	if fields == nil {
		return nil, &wallet.DeserializationError{What: "verifiable presentation", Err: errors.New("null presentation")}
	}
	return result, nil
}
