package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"web3id/internal/receipt"
	"web3id/internal/statement"
	"web3id/internal/verification"
	dErrors "web3id/pkg/domain-errors"
	"web3id/pkg/platform/httputil"
	"web3id/pkg/requestcontext"
)

// ExpectedChallengeHeader binds a verification to the challenge the caller issued.
const ExpectedChallengeHeader = "X-Expected-Challenge"

// Verifier runs the verification pipeline.
type Verifier interface {
	Verify(ctx context.Context, raw []byte, opts verification.VerifyOptions) (*verification.Result, error)
}

// ReceiptIssuer signs attestations for accepted presentations.
type ReceiptIssuer interface {
	Issue(sub receipt.Subject) (string, error)
}

// Handler serves the presentation verification endpoint.
type Handler struct {
	logger   *slog.Logger
	verifier Verifier
	receipts ReceiptIssuer
}

// Option configures the Handler.
type Option func(*Handler)

// WithReceipts attaches a signed receipt to every accepted response.
func WithReceipts(issuer ReceiptIssuer) Option {
	return func(h *Handler) {
		h.receipts = issuer
	}
}

func New(verifier Verifier, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:   logger,
		verifier: verifier,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the verification routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v0/verify", h.handleVerify)
}

// handleVerify answers 200 for accepted presentations, 400 for malformed
// ones and 422 for rejected ones. Node and replay store failures are 5xx.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	raw, err := httputil.ReadBody(r)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read presentation",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	opts := verification.VerifyOptions{ExpectedChallenge: r.Header.Get(ExpectedChallengeHeader)}
	if opts.ExpectedChallenge != "" {
		if err := statement.ValidateChallenge(opts.ExpectedChallenge); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, ExpectedChallengeHeader+" must be 32 hex-encoded bytes"))
			return
		}
	}

	result, err := h.verifier.Verify(ctx, raw, opts)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status, body := toResponse(result)
	if result.Accepted() && h.receipts != nil && result.Request != nil {
		token, err := h.receipts.Issue(receipt.Subject{
			Challenge:  result.Request.Challenge,
			Network:    string(result.Network),
			BlockHash:  result.BlockHash,
			Statements: len(result.Request.CredentialStatements),
		})
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to issue receipt",
				"request_id", requestID,
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}
		body.Receipt = token
	}
	httputil.WriteJSON(w, status, body)
}

// Response is the body of every verification outcome.
type Response struct {
	Accepted         bool                  `json:"accepted"`
	Verdict          verification.Verdict  `json:"verdict"`
	Error            string                `json:"error,omitempty"`
	ErrorDescription string                `json:"error_description,omitempty"`
	BlockHash        string                `json:"blockHash,omitempty"`
	BlockTime        *time.Time            `json:"blockTime,omitempty"`
	Reasons          []verification.Reason `json:"reasons,omitempty"`
	Request          *statement.Request    `json:"request,omitempty"`
	Receipt          string                `json:"receipt,omitempty"`
}

func toResponse(result *verification.Result) (int, Response) {
	resp := Response{
		Accepted:  result.Accepted(),
		Verdict:   result.Verdict,
		BlockHash: result.BlockHash,
		Reasons:   result.Reasons,
		Request:   result.Request,
	}
	if !result.BlockTime.IsZero() {
		t := result.BlockTime.UTC()
		resp.BlockTime = &t
	}
	if result.Accepted() {
		return http.StatusOK, resp
	}

	code := dErrors.CodeMalformedInput
	if result.Verdict == verification.VerdictRejected {
		code = dErrors.CodeMetadataRejected
		if len(result.Reasons) > 0 {
			code = verification.StageCode(result.Reasons[0].Stage)
		}
	}
	resp.Error = httputil.DomainCodeToHTTPCode(code)
	if len(result.Reasons) > 0 {
		resp.ErrorDescription = result.Reasons[0].Message
	}
	return httputil.DomainCodeToHTTPStatus(code), resp
}
