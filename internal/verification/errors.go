package verification

import (
	"fmt"

	dErrors "web3id/pkg/domain-errors"
)

// RejectionError is returned by the stage methods when the presentation is
// well formed but must not be accepted.
type RejectionError struct {
	Reason Reason
}

func reject(stage Stage, code string, credential int, format string, args ...any) *RejectionError {
	r := Reason{Stage: stage, Code: code, Message: fmt.Sprintf(format, args...)}
	if credential >= 0 {
		idx := credential
		r.Credential = &idx
	}
	return &RejectionError{Reason: r}
}

func (e *RejectionError) Error() string {
	if e.Reason.Credential != nil {
		return fmt.Sprintf("%s check failed for credential %d: %s: %s", e.Reason.Stage, *e.Reason.Credential, e.Reason.Code, e.Reason.Message)
	}
	return fmt.Sprintf("%s check failed: %s: %s", e.Reason.Stage, e.Reason.Code, e.Reason.Message)
}

// Unwrap exposes the domain error code of the failed stage.
func (e *RejectionError) Unwrap() error {
	return dErrors.New(StageCode(e.Reason.Stage), e.Reason.Message)
}

// StageCode is the domain error code reported for a failure at stage.
func StageCode(stage Stage) dErrors.Code {
	switch stage {
	case StageParse:
		return dErrors.CodeMalformedInput
	case StageMetadata:
		return dErrors.CodeMetadataRejected
	case StageCryptographic:
		return dErrors.CodeCryptographicFailure
	case StageReplay:
		return dErrors.CodeReplayed
	default:
		return dErrors.CodeInternal
	}
}
