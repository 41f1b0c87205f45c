// Package tracer provides a small tracing abstraction so the verification
// pipeline and ledger client can emit spans without importing OpenTelemetry
// everywhere.
//
// Implementations:
//   - NoopTracer: for tests
//   - OTelTracer: OpenTelemetry adapter
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks the span as failed.
	// End must be called exactly once.
	End(err error)

	SetAttributes(attrs ...Attribute)

	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span and returns a context carrying it.
	//
	//   ctx, span := t.Start(ctx, tracer.SpanVerifyMetadata,
	//       tracer.Int64(tracer.AttrCredentialCount, 2),
	//   )
	//   defer span.End(nil)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// ShortHash returns the first 8 bytes of the SHA-256 of s, hex encoded.
// Challenges are recorded this way so spans can be correlated without
// carrying the nonce itself.
func ShortHash(s string) string {
	if s == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:8])
}

// Span names emitted by the verifier.
const (
	SpanVerify                = "verify"
	SpanVerifyParse           = "verify.parse"
	SpanVerifyMetadata        = "verify.metadata"
	SpanVerifyCryptographic   = "verify.cryptographic"
	SpanVerifyReplay          = "verify.replay"
	SpanLedgerLastFinalBlock  = "ledger.last_final_block"
	SpanLedgerCredentialState = "ledger.credential_metadata"
	SpanLedgerVerifyProof     = "ledger.verify_presentation"
)

// Attribute keys emitted by the verifier.
const (
	AttrChallengeHash   = "challenge.hash"
	AttrCredentialCount = "credential.count"
	AttrCredentialIndex = "credential.index"
	AttrNetwork         = "network"
	AttrBlockHash       = "block.hash"
	AttrVerdict         = "verdict"
	AttrReason          = "reason"
)

// Event names emitted by the verifier.
const (
	EventChallengeConsumed = "challenge.consumed"
)
