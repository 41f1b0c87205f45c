package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "web3id/pkg/domain-errors"
)

// ErrorResponse is the JSON body written for every non-2xx response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Errors after WriteHeader cannot change the status code, so we ignore encoding errors.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError centralizes domain error translation to HTTP responses.
// Caller faults map to 4xx and ledger or infrastructure faults map to 5xx.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), ErrorResponse{
			Error:            DomainCodeToHTTPCode(domainErr.Code),
			ErrorDescription: domainErr.Message,
		})
		return
	}

	// Fallback for unexpected errors
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: DomainCodeToHTTPCode(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeMalformedInput:
		return http.StatusBadRequest
	case dErrors.CodeMetadataRejected, dErrors.CodeCryptographicFailure, dErrors.CodeReplayed:
		return http.StatusUnprocessableEntity
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case dErrors.CodeUnsupported:
		return http.StatusUnsupportedMediaType
	case dErrors.CodeLedgerUnavailable:
		return http.StatusBadGateway
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DomainCodeToHTTPCode translates domain error codes to the error string of the JSON body.
func DomainCodeToHTTPCode(code dErrors.Code) string {
	switch code {
	case dErrors.CodeNotFound:
		return "not_found"
	case dErrors.CodeBadRequest:
		return "bad_request"
	case dErrors.CodeValidation:
		return "validation_error"
	case dErrors.CodeMalformedInput:
		return "malformed_input"
	case dErrors.CodeMetadataRejected:
		return "metadata_rejected"
	case dErrors.CodeCryptographicFailure:
		return "cryptographic_failure"
	case dErrors.CodeReplayed:
		return "replayed"
	case dErrors.CodeConflict:
		return "conflict"
	case dErrors.CodeTooLarge:
		return "payload_too_large"
	case dErrors.CodeUnsupported:
		return "invalid_content_type"
	case dErrors.CodeLedgerUnavailable:
		return "ledger_unavailable"
	case dErrors.CodeUnavailable:
		return "unavailable"
	case dErrors.CodeTimeout:
		return "ledger_timeout"
	default:
		return "internal_error"
	}
}
