package httputil

import (
	"errors"
	"io"
	"net/http"

	dErrors "web3id/pkg/domain-errors"
)

// ReadBody reads the whole request body. A body cut off by http.MaxBytesReader
// is reported as CodeTooLarge so the caller can answer 413.
func ReadBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, dErrors.New(dErrors.CodeTooLarge, "request body too large")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read request body")
	}
	return data, nil
}
