package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"web3id/internal/platform/metrics"
	"web3id/pkg/platform/circuit"
	"web3id/pkg/platform/tracer"
)

const maxResponseBytes = 4 << 20

// Method names used for metrics labels.
const (
	MethodLastFinalBlock     = "last_final_block"
	MethodCredentialMetadata = "credential_metadata"
	MethodVerifyPresentation = "verify_presentation"
	MethodTransactionStatus  = "transaction_status"
)

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a node gateway client. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    HTTPDoer
	metrics *metrics.Metrics
	tracer  tracer.Tracer
	breaker *circuit.Breaker
}

type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithBreaker guards every call with b. Only outages and timeouts count as failures.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// NewClient creates a client for the gateway at endpoint.
func NewClient(endpoint *url.URL, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: endpoint,
		http:    &http.Client{Timeout: timeout},
		tracer:  tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LastFinalBlock returns the most recent finalized block.
func (c *Client) LastFinalBlock(ctx context.Context) (*BlockInfo, error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanLedgerLastFinalBlock)
	var block BlockInfo
	err := c.call(ctx, MethodLastFinalBlock, http.MethodGet, "/v2/blocks/last-final", nil, &block)
	if err == nil {
		span.SetAttributes(tracer.String(tracer.AttrBlockHash, block.Hash))
	}
	span.End(err)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// CredentialMetadata fetches the public data of a credential at the given block.
// A credential unknown to the registry yields a CategoryNotFound error.
func (c *Client) CredentialMetadata(ctx context.Context, q CredentialQuery) (*CredentialMetadata, error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanLedgerCredentialState,
		tracer.String(tracer.AttrNetwork, string(q.Network)),
		tracer.String(tracer.AttrBlockHash, q.Block),
	)
	var md CredentialMetadata
	err := c.call(ctx, MethodCredentialMetadata, http.MethodPost, "/v2/credentials/metadata", q, &md)
	span.End(err)
	if err != nil {
		return nil, err
	}
	return &md, nil
}

// VerifyPresentation asks the node to check every proof of a presentation
// against the supplied public inputs. ErrInvalidProof signals a rejection.
func (c *Client) VerifyPresentation(ctx context.Context, check ProofCheck) error {
	ctx, span := c.tracer.Start(ctx, tracer.SpanLedgerVerifyProof,
		tracer.String(tracer.AttrBlockHash, check.Block),
		tracer.Int64(tracer.AttrCredentialCount, int64(len(check.Inputs))),
	)
	err := c.call(ctx, MethodVerifyPresentation, http.MethodPost, "/v2/presentations/verify", check, nil)
	span.End(err)
	return err
}

// TransactionStatus reports the lifecycle state of a submitted transaction.
func (c *Client) TransactionStatus(ctx context.Context, hash string) (*TransactionStatus, error) {
	var status TransactionStatus
	path := "/v2/transactions/" + url.PathEscape(hash) + "/status"
	if err := c.call(ctx, MethodTransactionStatus, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Ping checks that the gateway answers. Used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.LastFinalBlock(ctx)
	return err
}

func (c *Client) call(ctx context.Context, method, verb, path string, in, out any) error {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			c.observe(method, "circuit_open", 0)
			return NewError(CategoryUnavailable, method, "node circuit open", err)
		}
	}

	start := time.Now()
	err := c.do(ctx, method, verb, path, in, out)
	c.observe(method, outcome(err), time.Since(start))

	if c.breaker != nil {
		switch {
		case err == nil:
			c.breaker.RecordSuccess()
		case IsRetryable(err):
			c.breaker.RecordFailure()
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, verb, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return NewError(CategoryInternal, method, "failed to marshal request", err)
		}
		body = bytes.NewReader(payload)
	}

	endpoint := strings.TrimRight(c.baseURL.String(), "/") + path
	req, err := http.NewRequestWithContext(ctx, verb, endpoint, body)
	if err != nil {
		return NewError(CategoryInternal, method, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			return NewError(CategoryTimeout, method, "request timeout", err)
		}
		return NewError(CategoryUnavailable, method, "failed to execute request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return NewError(CategoryBadData, method, "failed to read response", err)
	}

	if err := classifyStatus(method, resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return NewError(CategoryBadData, method, "failed to decode response", err)
	}
	return nil
}

type rejection struct {
	Reason string `json:"reason"`
}

func classifyStatus(method string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return NewError(CategoryNotFound, method, "not found", nil)
	case status == http.StatusUnprocessableEntity && method == MethodVerifyPresentation:
		var r rejection
		_ = json.Unmarshal(body, &r)
		if r.Reason == "" {
			return ErrInvalidProof
		}
		return fmt.Errorf("%w: %s", ErrInvalidProof, r.Reason)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return NewError(CategoryRejected, method, fmt.Sprintf("node rejected request with status %d", status), nil)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return NewError(CategoryTimeout, method, fmt.Sprintf("node timed out with status %d", status), nil)
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return NewError(CategoryUnavailable, method, fmt.Sprintf("node unavailable with status %d", status), nil)
	default:
		return NewError(CategoryInternal, method, fmt.Sprintf("unexpected status %d", status), nil)
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidProof):
		return "invalid_proof"
	default:
		return string(CategoryOf(err))
	}
}

func (c *Client) observe(method, result string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveLedgerCall(method, result, d)
	}
}
