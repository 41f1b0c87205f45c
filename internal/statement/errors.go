package statement

import (
	"fmt"

	dErrors "web3id/pkg/domain-errors"
)

// ValidationError reports a statement that cannot be sent to a wallet.
// Entry is the zero-based index of the credential statement, or -1 when
// the failure is not tied to one.
type ValidationError struct {
	Entry   int
	Tag     string
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Entry >= 0 && e.Tag != "":
		return fmt.Sprintf("credential statement %d: attribute %q: %s", e.Entry, e.Tag, e.Message)
	case e.Entry >= 0:
		return fmt.Sprintf("credential statement %d: %s", e.Entry, e.Message)
	case e.Tag != "":
		return fmt.Sprintf("attribute %q: %s", e.Tag, e.Message)
	default:
		return e.Message
	}
}

// Unwrap lets callers match validation failures with the domain code.
func (e *ValidationError) Unwrap() error {
	return dErrors.New(dErrors.CodeValidation, e.Message)
}

func invalid(entry int, tag, format string, args ...any) *ValidationError {
	return &ValidationError{Entry: entry, Tag: tag, Message: fmt.Sprintf(format, args...)}
}
