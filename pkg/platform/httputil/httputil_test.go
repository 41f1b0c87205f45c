package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "web3id/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"malformed input is a caller fault", dErrors.New(dErrors.CodeMalformedInput, "missing type"), http.StatusBadRequest, "malformed_input"},
		{"metadata rejection", dErrors.New(dErrors.CodeMetadataRejected, "revoked"), http.StatusUnprocessableEntity, "metadata_rejected"},
		{"cryptographic failure", dErrors.New(dErrors.CodeCryptographicFailure, "bad proof"), http.StatusUnprocessableEntity, "cryptographic_failure"},
		{"ledger failure is an infra fault", dErrors.New(dErrors.CodeLedgerUnavailable, "node down"), http.StatusBadGateway, "ledger_unavailable"},
		{"ledger timeout", dErrors.New(dErrors.CodeTimeout, "deadline"), http.StatusGatewayTimeout, "ledger_timeout"},
		{"plain error falls back to 500", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error)
		})
	}
}

func TestWriteError_DoesNotLeakPlainErrorText(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("dial tcp 10.0.0.1:20000: connection refused"))

	assert.NotContains(t, w.Body.String(), "10.0.0.1")
}

func TestReadBody(t *testing.T) {
	t.Run("reads full body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
		data, err := ReadBody(req)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(data))
	})

	t.Run("oversized body maps to too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
		w := httptest.NewRecorder()
		req.Body = http.MaxBytesReader(w, req.Body, 16)

		_, err := ReadBody(req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTooLarge))
	})
}
