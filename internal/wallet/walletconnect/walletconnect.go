// Package walletconnect pairs with a remote wallet, typically on a phone,
// through a WebSocket relay. The pairing URI is shown as a QR code; once the
// wallet approves, requests and account updates flow over a session topic.
package walletconnect

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"web3id/internal/statement"
	"web3id/internal/wallet"
	pkgsync "web3id/pkg/platform/sync"
)

// DefaultRelayURL is the public relay.
const DefaultRelayURL = "wss://relay.walletconnect.com"

// ErrSessionClosed is wrapped in the TransportError of requests aborted
// because the session ended.
var ErrSessionClosed = errors.New("walletconnect session closed")

// Provider implements wallet.Provider over a relay session.
type Provider struct {
	wallet.Broadcaster

	relayURL  string
	metadata  Metadata
	onPairing func(uri string)
	logger    *slog.Logger
	gate      pkgsync.Gate
	nextID    atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	stop    context.CancelFunc
	done    chan struct{}
	session string
	chainID string
	pending map[uint64]chan Message
}

var _ wallet.Provider = (*Provider)(nil)

type Option func(*Provider)

// WithPairingHandler receives the pairing URI, for example to render it as a QR code.
func WithPairingHandler(fn func(uri string)) Option {
	return func(p *Provider) {
		if fn != nil {
			p.onPairing = fn
		}
	}
}

func WithMetadata(m Metadata) Option {
	return func(p *Provider) {
		p.metadata = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(relayURL string, opts ...Option) *Provider {
	if relayURL == "" {
		relayURL = DefaultRelayURL
	}
	p := &Provider{
		relayURL:  relayURL,
		metadata:  Metadata{Name: "Proof explorer", Description: "Requests Web3 ID proofs"},
		onPairing: func(string) {},
		logger:    slog.Default(),
		pending:   make(map[uint64]chan Message),
	}
	p.nextID.Store(uint64(time.Now().UnixMilli()) * 1000)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect pairs with a wallet and waits for the holder to approve the
// session. An existing session is reused.
func (p *Provider) Connect(ctx context.Context, caps wallet.Capabilities) ([]string, error) {
	leave, ok := p.gate.TryEnter()
	if !ok {
		return nil, wallet.ErrRequestInFlight
	}
	defer leave()

	if account := p.CurrentAccount(); account != "" && p.sessionTopic() != "" {
		return []string{account}, nil
	}
	// A session left without accounts is dropped before pairing again.
	p.teardown(ErrSessionClosed)

	if err := p.dial(ctx); err != nil {
		return nil, err
	}

	pairing := NewTopic()
	if err := p.send(ctx, Envelope{Type: EnvelopeSubscribe, Topic: pairing}); err != nil {
		p.teardown(err)
		return nil, err
	}
	p.onPairing(PairingURI(pairing, p.relayURL))

	var approval Approval
	err := p.request(ctx, pairing, MethodSessionPropose, Proposal{
		Proposer: p.metadata,
		OptionalNamespaces: map[string]Namespace{
			wallet.Namespace: {Chains: []string{caps.ChainID()}, Methods: caps.Methods, Events: caps.Events},
		},
	}, &approval)
	if err != nil {
		p.teardown(err)
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, wallet.Rejected(err)
		}
		return nil, err
	}

	account := AccountFor(approval.Namespaces, caps.ChainID())
	if approval.Topic == "" || account == "" {
		err := fmt.Errorf("wallet approved no %s account", caps.ChainID())
		p.teardown(err)
		return nil, wallet.Rejected(err)
	}
	if err := p.send(ctx, Envelope{Type: EnvelopeSubscribe, Topic: approval.Topic}); err != nil {
		p.teardown(err)
		return nil, err
	}

	p.mu.Lock()
	p.session = approval.Topic
	p.chainID = caps.ChainID()
	p.mu.Unlock()

	p.Publish(account)
	p.logger.InfoContext(ctx, "walletconnect session established", "account", account)
	return []string{account}, nil
}

type presentationParams struct {
	ParamsJSON string `json:"paramsJson"`
}

type presentationResult struct {
	VerifiablePresentationJSON string `json:"verifiablePresentationJson"`
}

// RequestVerifiablePresentation asks the paired wallet for a proof. The
// wallet receives the request as a JSON string, preserving big integers.
func (p *Provider) RequestVerifiablePresentation(ctx context.Context, challenge string, statements []statement.CredentialStatement) (json.RawMessage, error) {
	req, err := wallet.PresentationParams(challenge, statements)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode presentation request: %w", err)
	}

	leave, ok := p.gate.TryEnter()
	if !ok {
		return nil, wallet.ErrRequestInFlight
	}
	defer leave()

	var result presentationResult
	if err := p.sessionRequest(ctx, wallet.MethodRequestVerifiablePresentation, presentationParams{ParamsJSON: string(encoded)}, &result); err != nil {
		return nil, err
	}

	raw := json.RawMessage(result.VerifiablePresentationJSON)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &wallet.DeserializationError{What: "verifiable presentation", Err: err}
	}
	if fields == nil {
		return nil, &wallet.DeserializationError{What: "verifiable presentation", Err: errors.New("null presentation")}
	}
	return raw, nil
}

type transactionParams struct {
	Type    string         `json:"type"`
	Sender  string         `json:"sender"`
	Payload map[string]any `json:"payload"`
}

type transactionResult struct {
	Hash string `json:"hash"`
}

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

	var result transactionResult
	err := p.sessionRequest(ctx, wallet.MethodSignAndSendTransaction, transactionParams{
		Type:    "RegisterData",
		Sender:  account,
		Payload: map[string]any{"data": hex.EncodeToString(data)},
	}, &result)
	if err != nil {
		return "", err
	}
	if result.Hash == "" {
		return "", &wallet.DeserializationError{What: "transaction hash", Err: errors.New("empty hash")}
	}
	return result.Hash, nil
}

// Disconnect ends the session on both sides.
func (p *Provider) Disconnect(ctx context.Context) error {
	topic := p.sessionTopic()
	if topic == "" {
		p.teardown(ErrSessionClosed)
		return nil
	}
	params, _ := json.Marshal(RPCError{Code: 6000, Message: "user disconnected"})
	msg, _ := json.Marshal(Message{JSONRPC: "2.0", ID: p.nextID.Add(1), Method: MethodSessionDelete, Params: params})
	err := p.send(ctx, Envelope{Type: EnvelopePublish, Topic: topic, Message: msg})
	p.teardown(ErrSessionClosed)
	return err
}

func (p *Provider) sessionTopic() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *Provider) sessionRequest(ctx context.Context, method string, params, out any) error {
	p.mu.Lock()
	topic, chainID := p.session, p.chainID
	p.mu.Unlock()
	if topic == "" {
		return wallet.ErrNotConnected
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	err = p.request(ctx, topic, MethodSessionRequest, SessionRequest{
		ChainID: chainID,
		Request: Request{Method: method, Params: encoded},
	}, out)
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == CodeUserRejected {
			return fmt.Errorf("%w: %s", wallet.ErrUserRejected, rpcErr.Message)
		}
		return &wallet.TransportError{Op: method, Err: rpcErr}
	}
	return err
}

func (p *Provider) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, p.relayURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return &wallet.TransportError{Op: "dial", Err: ctx.Err()}
		}
		return wallet.NotFound(err)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.conn = conn
	p.stop = stop
	p.done = done
	p.mu.Unlock()

	go p.readLoop(loopCtx, conn)
	return nil
}

// request publishes a JSON-RPC call on topic and waits for the answer, the
// end of ctx or the end of the session.
func (p *Provider) request(ctx context.Context, topic, method string, params, out any) error {
	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	id := p.nextID.Add(1)
	msg, err := json.Marshal(Message{JSONRPC: "2.0", ID: id, Method: method, Params: encoded})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	reply := make(chan Message, 1)
	p.mu.Lock()
	if p.conn == nil {
		p.mu.Unlock()
		return wallet.ErrNotConnected
	}
	done := p.done
	p.pending[id] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.send(ctx, Envelope{Type: EnvelopePublish, Topic: topic, Message: msg}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return &wallet.TransportError{Op: method, Err: ctx.Err()}
	case <-done:
		return &wallet.TransportError{Op: method, Err: ErrSessionClosed}
	case resp := <-reply:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return &wallet.DeserializationError{What: method + " result", Err: err}
		}
		return nil
	}
}

func (p *Provider) send(ctx context.Context, env Envelope) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return wallet.ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		if ctx.Err() != nil {
			return &wallet.TransportError{Op: env.Type, Err: ctx.Err()}
		}
		return &wallet.TransportError{Op: env.Type, Err: err}
	}
	return nil
}

func (p *Provider) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				p.logger.Warn("walletconnect relay connection lost", "error", err)
			}
			p.closeConn(conn, ErrSessionClosed)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != EnvelopeMessage {
			continue
		}
		var msg Message
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			p.logger.Warn("undecodable walletconnect message", "topic", env.Topic, "error", err)
			continue
		}

		if msg.Method == "" {
			p.deliver(msg)
			continue
		}
		p.handleEvent(ctx, conn, env.Topic, msg)
	}
}

// deliver hands a response to its waiting request. Duplicate responses
// for the same id are dropped.
func (p *Provider) deliver(msg Message) {
	p.mu.Lock()
	reply, ok := p.pending[msg.ID]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case reply <- msg:
	default:
		p.logger.Debug("dropping duplicate walletconnect response", "id", msg.ID)
	}
}

func (p *Provider) handleEvent(ctx context.Context, conn *websocket.Conn, topic string, msg Message) {
	switch msg.Method {
	case MethodSessionUpdate:
		var update SessionUpdate
		if err := json.Unmarshal(msg.Params, &update); err != nil {
			p.logger.Warn("undecodable session update", "error", err)
			return
		}
		p.mu.Lock()
		chainID := p.chainID
		p.mu.Unlock()
		p.Publish(AccountFor(update.Namespaces, chainID))
		p.acknowledge(ctx, topic, msg.ID)
	case MethodSessionPing:
		p.acknowledge(ctx, topic, msg.ID)
	case MethodSessionDelete:
		p.logger.Info("walletconnect session deleted by wallet")
		p.closeConn(conn, ErrSessionClosed)
	}
}

func (p *Provider) acknowledge(ctx context.Context, topic string, id uint64) {
	ack, _ := json.Marshal(Message{JSONRPC: "2.0", ID: id, Result: json.RawMessage("true")})
	if err := p.send(ctx, Envelope{Type: EnvelopePublish, Topic: topic, Message: ack}); err != nil {
		p.logger.Debug("failed to acknowledge walletconnect event", "error", err)
	}
}

// teardown closes the current relay connection, aborting pending requests.
func (p *Provider) teardown(reason error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	p.closeConn(conn, reason)
}

// closeConn closes conn once, and only while it is still the current
// connection: a read loop of a replaced connection cannot end the new session.
func (p *Provider) closeConn(conn *websocket.Conn, reason error) {
	p.mu.Lock()
	if conn == nil || p.conn != conn {
		p.mu.Unlock()
		return
	}
	stop, done := p.stop, p.done
	p.conn, p.stop, p.done = nil, nil, nil
	p.session = ""
	p.mu.Unlock()

	close(done)
	_ = conn.Close(websocket.StatusNormalClosure, reason.Error())
	stop()
	p.Publish("")
}
