// Package verification runs the server side presentation pipeline:
// parse, credential metadata checks against the node, delegated
// cryptographic verification and the optional replay guard.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"web3id/internal/ledger"
	"web3id/internal/platform/metrics"
	"web3id/internal/presentation"
	"web3id/internal/replay"
	"web3id/pkg/domain"
	dErrors "web3id/pkg/domain-errors"
	"web3id/pkg/platform/tracer"
	"web3id/pkg/requestcontext"
)

// Ledger is the read side of the node the metadata stage needs.
type Ledger interface {
	LastFinalBlock(ctx context.Context) (*ledger.BlockInfo, error)
	CredentialMetadata(ctx context.Context, q ledger.CredentialQuery) (*ledger.CredentialMetadata, error)
}

// ProofVerifier checks the zero-knowledge proofs of a presentation.
type ProofVerifier interface {
	VerifyPresentation(ctx context.Context, check ledger.ProofCheck) error
}

// Service holds no per-request state and is safe for concurrent use.
type Service struct {
	ledger    Ledger
	verifier  ProofVerifier
	network   domain.Network
	replay    replay.Store
	replayTTL time.Duration
	metrics   *metrics.Metrics
	tracer    tracer.Tracer
	logger    *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithReplayStore enables the replay guard: accepted challenges are kept for ttl.
func WithReplayStore(store replay.Store, ttl time.Duration) Option {
	return func(s *Service) {
		s.replay = store
		s.replayTTL = ttl
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a verification service for network.
// Panics if required dependencies are nil.
func New(node Ledger, verifier ProofVerifier, network domain.Network, opts ...Option) *Service {
	if node == nil {
		panic("verification.New: ledger is required")
	}
	if verifier == nil {
		panic("verification.New: proof verifier is required")
	}

	s := &Service{
		ledger:   node,
		verifier: verifier,
		network:  network,
		replay:   replay.Noop{},
		tracer:   tracer.NewNoop(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify runs the whole pipeline over a raw presentation. Malformed input and
// rejections are reported in the Result; the error is reserved for failures
// to reach the node or the replay store.
func (s *Service) Verify(ctx context.Context, raw []byte, opts VerifyOptions) (result *Result, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerify, tracer.String(tracer.AttrNetwork, string(s.network)))
	defer func() {
		if result != nil {
			span.SetAttributes(tracer.String(tracer.AttrVerdict, string(result.Verdict)))
			s.observeVerdict(result)
		}
		span.End(err)
	}()

	requestID := requestcontext.RequestID(ctx)

	p, err := s.timedParse(ctx, raw)
	if err != nil {
		s.logger.InfoContext(ctx, "presentation malformed",
			"request_id", requestID,
			"error", err,
		)
		return &Result{
			Verdict: VerdictMalformed,
			Reasons: []Reason{{Stage: StageParse, Code: ReasonMalformed, Message: err.Error()}},
		}, nil
	}
	span.SetAttributes(
		tracer.String(tracer.AttrChallengeHash, tracer.ShortHash(p.Context)),
		tracer.Int64(tracer.AttrCredentialCount, int64(len(p.Credentials))),
	)

	block, err := s.ledger.LastFinalBlock(ctx)
	if err != nil {
		return nil, ledgerFailure(err, "failed to query last finalized block")
	}
	span.SetAttributes(tracer.String(tracer.AttrBlockHash, block.Hash))

	rejected := func(rejection *RejectionError) *Result {
		s.logger.InfoContext(ctx, "presentation rejected",
			"request_id", requestID,
			"stage", rejection.Reason.Stage,
			"reason", rejection.Reason.Code,
			"block_hash", block.Hash,
		)
		return &Result{
			Verdict:   VerdictRejected,
			Reasons:   []Reason{rejection.Reason},
			BlockHash: block.Hash,
			BlockTime: block.SlotTime,
		}
	}

	inputs, err := s.CheckCredentialMetadata(ctx, p, s.network, block)
	if err != nil {
		if rejection, ok := asRejection(err); ok {
			return rejected(rejection), nil
		}
		return nil, err
	}

	if err := s.VerifyCryptographic(ctx, p, block, inputs, opts.ExpectedChallenge); err != nil {
		if rejection, ok := asRejection(err); ok {
			return rejected(rejection), nil
		}
		return nil, err
	}

	if err := s.consume(ctx, p.Context); err != nil {
		if rejection, ok := asRejection(err); ok {
			return rejected(rejection), nil
		}
		return nil, err
	}

	req := p.Request()
	s.logger.InfoContext(ctx, "presentation accepted",
		"request_id", requestID,
		"credentials", len(p.Credentials),
		"block_hash", block.Hash,
	)
	return &Result{
		Verdict:   VerdictAccepted,
		Network:   s.network,
		BlockHash: block.Hash,
		BlockTime: block.SlotTime,
		Request:   &req,
	}, nil
}

// Parse decodes a presentation. Every failure carries CodeMalformedInput.
func (s *Service) Parse(raw []byte) (*presentation.Presentation, error) {
	return presentation.Parse(raw)
}

func (s *Service) timedParse(ctx context.Context, raw []byte) (*presentation.Presentation, error) {
	_, span := s.tracer.Start(ctx, tracer.SpanVerifyParse)
	start := time.Now()
	p, err := s.Parse(raw)
	s.observeStage(StageParse, time.Since(start))
	span.End(err)
	return p, err
}

// CheckCredentialMetadata checks every credential against its on-chain data
// at block, in order, stopping at the first failure. For each credential the
// checks are: network, existence, validity window, status and, for account
// credentials, that it is not an initial credential. On success it returns
// the public inputs for the cryptographic stage in credential order.
func (s *Service) CheckCredentialMetadata(ctx context.Context, p *presentation.Presentation, network domain.Network, block *ledger.BlockInfo) (inputs []ledger.CredentialMetadata, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerifyMetadata,
		tracer.Int64(tracer.AttrCredentialCount, int64(len(p.Credentials))),
	)
	start := time.Now()
	defer func() {
		s.observeStage(StageMetadata, time.Since(start))
		span.End(err)
	}()

	inputs = make([]ledger.CredentialMetadata, 0, len(p.Credentials))
	for i, cred := range p.Credentials {
		md, err := s.checkCredential(ctx, i, cred, network, block)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, *md)
	}
	return inputs, nil
}

func (s *Service) checkCredential(ctx context.Context, i int, cred presentation.CredentialProof, network domain.Network, block *ledger.BlockInfo) (*ledger.CredentialMetadata, error) {
	if cred.Subject.Network != network || cred.Issuer.Network != network {
		return nil, reject(StageMetadata, ReasonNetworkMismatch, i,
			"credential is on %s, verifier expects %s", cred.Subject.Network, network)
	}

	md, err := s.ledger.CredentialMetadata(ctx, ledger.CredentialQuery{
		Network: network,
		Block:   block.Hash,
		Subject: cred.Subject.String(),
		Issuer:  cred.Issuer.String(),
	})
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, reject(StageMetadata, ReasonNotFound, i, "credential %s does not exist at block %s", cred.Subject, block.Hash)
		}
		return nil, ledgerFailure(err, fmt.Sprintf("failed to query metadata of credential %d", i))
	}

	if md.Network != "" && md.Network != network {
		return nil, reject(StageMetadata, ReasonNetworkMismatch, i,
			"credential is registered on %s, verifier expects %s", md.Network, network)
	}

	now := block.SlotTime
	if now.Before(md.ValidFrom) {
		return nil, reject(StageMetadata, ReasonNotYetValid, i,
			"credential is valid from %s", md.ValidFrom.UTC().Format(time.RFC3339))
	}
	if md.ValidUntil != nil && !now.Before(*md.ValidUntil) {
		return nil, reject(StageMetadata, ReasonExpired, i,
			"credential expired at %s", md.ValidUntil.UTC().Format(time.RFC3339))
	}

	switch md.Status {
	case ledger.StatusActive:
	case ledger.StatusRevoked:
		return nil, reject(StageMetadata, ReasonRevoked, i, "credential has been revoked")
	case ledger.StatusExpired:
		return nil, reject(StageMetadata, ReasonExpired, i, "credential registry reports it expired")
	case ledger.StatusNotActivated:
		return nil, reject(StageMetadata, ReasonNotYetValid, i, "credential is not activated yet")
	default:
		return nil, ledgerFailure(
			ledger.NewError(ledger.CategoryBadData, ledger.MethodCredentialMetadata, "unknown credential status", nil),
			fmt.Sprintf("credential %d has unknown status %q", i, md.Status),
		)
	}

	if cred.Subject.Kind == presentation.KindAccount && md.Initial {
		return nil, reject(StageMetadata, ReasonInitialCredential, i, "initial account credentials are not accepted")
	}
	return md, nil
}

// VerifyCryptographic delegates proof checking to the node. When challenge is
// set it must match the presentation context, which is checked first.
func (s *Service) VerifyCryptographic(ctx context.Context, p *presentation.Presentation, block *ledger.BlockInfo, inputs []ledger.CredentialMetadata, challenge string) (err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerifyCryptographic,
		tracer.String(tracer.AttrBlockHash, block.Hash),
	)
	start := time.Now()
	defer func() {
		s.observeStage(StageCryptographic, time.Since(start))
		span.End(err)
	}()

	if challenge != "" && !strings.EqualFold(challenge, p.Context) {
		return reject(StageCryptographic, ReasonChallengeMismatch, -1, "presentation was made for a different challenge")
	}
	if len(inputs) != len(p.Credentials) {
		return dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("have public inputs for %d of %d credentials", len(inputs), len(p.Credentials)))
	}

	err = s.verifier.VerifyPresentation(ctx, ledger.ProofCheck{
		Block:        block.Hash,
		Presentation: p.Raw(),
		Inputs:       inputs,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrInvalidProof):
		return reject(StageCryptographic, ReasonInvalidProof, -1, "%s", err.Error())
	default:
		return ledgerFailure(err, "failed to verify presentation proofs")
	}
}

func (s *Service) consume(ctx context.Context, challenge string) (err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerifyReplay,
		tracer.String(tracer.AttrChallengeHash, tracer.ShortHash(challenge)),
	)
	start := time.Now()
	defer func() {
		s.observeStage(StageReplay, time.Since(start))
		span.End(err)
	}()

	err = s.replay.Consume(ctx, challenge, s.replayTTL)
	switch {
	case err == nil:
		span.AddEvent(tracer.EventChallengeConsumed)
		if s.metrics != nil {
			s.metrics.IncrementChallengesConsumed()
		}
		return nil
	case errors.Is(err, replay.ErrReplayed):
		return reject(StageReplay, ReasonReplayed, -1, "presentation challenge was already used")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "replay store unavailable")
	}
}

func asRejection(err error) (*RejectionError, bool) {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

func ledgerFailure(err error, msg string) error {
	if ledger.CategoryOf(err) == ledger.CategoryTimeout || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, msg)
}

func (s *Service) observeStage(stage Stage, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveStage(string(stage), d)
	}
}

func (s *Service) observeVerdict(r *Result) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveVerdict(string(r.Verdict))
	for _, reason := range r.Reasons {
		s.metrics.ObserveRejection(string(reason.Stage), reason.Code)
	}
}
