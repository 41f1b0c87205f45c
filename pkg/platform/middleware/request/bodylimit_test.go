package request

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "web3id/pkg/domain-errors"
	"web3id/pkg/platform/httputil"
)

func TestBodyLimit(t *testing.T) {
	echo := func(t *testing.T, limit int64, body string) (*httptest.ResponseRecorder, []byte, error) {
		t.Helper()
		var (
			data    []byte
			readErr error
		)
		handler := BodyLimit(limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, readErr = httputil.ReadBody(r)
			if readErr != nil {
				httputil.WriteError(w, readErr)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodPost, "/v0/verify", strings.NewReader(body))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w, data, readErr
	}

	t.Run("body under limit passes through", func(t *testing.T) {
		w, data, err := echo(t, 1024, strings.Repeat("x", 100))
		require.NoError(t, err)
		assert.Len(t, data, 100)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("body at exact limit passes through", func(t *testing.T) {
		w, data, err := echo(t, 100, strings.Repeat("x", 100))
		require.NoError(t, err)
		assert.Len(t, data, 100)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("body over limit answers 413", func(t *testing.T) {
		w, _, err := echo(t, 100, strings.Repeat("x", 101))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTooLarge))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "payload_too_large")
	})

	t.Run("empty body passes through", func(t *testing.T) {
		w, data, err := echo(t, 1024, "")
		require.NoError(t, err)
		assert.Empty(t, data)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
