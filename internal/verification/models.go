package verification

import (
	"time"

	"web3id/internal/statement"
	"web3id/pkg/domain"
)

// Verdict is the tri-state outcome of a verification.
type Verdict string

const (
	VerdictAccepted  Verdict = "accepted"
	VerdictRejected  Verdict = "rejected"
	VerdictMalformed Verdict = "malformed"
)

// Stage names a step of the pipeline. Stages run strictly in this order.
type Stage string

const (
	StageParse         Stage = "parse"
	StageMetadata      Stage = "metadata"
	StageCryptographic Stage = "cryptographic"
	StageReplay        Stage = "replay"
)

// Reason codes reported on rejection.
const (
	ReasonMalformed         = "malformed_input"
	ReasonNotFound          = "not_found"
	ReasonNetworkMismatch   = "network_mismatch"
	ReasonNotYetValid       = "not_yet_valid"
	ReasonExpired           = "expired"
	ReasonRevoked           = "revoked"
	ReasonInitialCredential = "initial_credential"
	ReasonChallengeMismatch = "challenge_mismatch"
	ReasonInvalidProof      = "invalid_proof"
	ReasonReplayed          = "replayed"
)

// Reason explains why a presentation was not accepted.
type Reason struct {
	Stage Stage  `json:"stage"`
	Code  string `json:"code"`
	// Credential is the index of the offending credential, when there is one.
	Credential *int   `json:"credential,omitempty"`
	Message    string `json:"message"`
}

// Result is the outcome of Verify. It is never persisted.
type Result struct {
	Verdict   Verdict
	Reasons   []Reason
	Network   domain.Network
	BlockHash string
	BlockTime time.Time
	// Request is the statement request the accepted presentation answers.
	Request *statement.Request
}

func (r *Result) Accepted() bool {
	return r.Verdict == VerdictAccepted
}

// VerifyOptions tunes a single Verify call.
type VerifyOptions struct {
	// ExpectedChallenge, when set, must equal the presentation context.
	ExpectedChallenge string
}
