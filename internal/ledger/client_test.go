package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web3id/internal/platform/metrics"
	"web3id/pkg/domain"
	"web3id/pkg/platform/circuit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	endpoint, err := url.Parse(server.URL)
	require.NoError(t, err)
	return NewClient(endpoint, time.Second, opts...)
}

func TestClient_LastFinalBlock(t *testing.T) {
	slot := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/blocks/last-final", r.URL.Path)
		_ = json.NewEncoder(w).Encode(BlockInfo{Hash: "abcd", Height: 42, SlotTime: slot})
	})

	block, err := client.LastFinalBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abcd", block.Hash)
	assert.Equal(t, uint64(42), block.Height)
	assert.True(t, slot.Equal(block.SlotTime))
}

func TestClient_CredentialMetadata(t *testing.T) {
	t.Run("sends query and decodes metadata", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var q CredentialQuery
			require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
			assert.Equal(t, domain.NetworkTestnet, q.Network)
			assert.Equal(t, "block-1", q.Block)
			_, _ = w.Write([]byte(`{"subject":"` + q.Subject + `","network":"testnet","status":"Active","validFrom":"2024-01-01T00:00:00Z"}`))
		})

		md, err := client.CredentialMetadata(context.Background(), CredentialQuery{
			Network: domain.NetworkTestnet,
			Block:   "block-1",
			Subject: "did:ccd:testnet:cred:aa",
		})
		require.NoError(t, err)
		assert.Equal(t, StatusActive, md.Status)
		assert.Nil(t, md.ValidUntil)
		assert.Equal(t, "did:ccd:testnet:cred:aa", md.Subject)
	})

	t.Run("404 maps to not found", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		_, err := client.CredentialMetadata(context.Background(), CredentialQuery{})
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.False(t, IsRetryable(err))
	})
}

func TestClient_VerifyPresentation(t *testing.T) {
	t.Run("200 is valid", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		err := client.VerifyPresentation(context.Background(), ProofCheck{Presentation: json.RawMessage(`{}`)})
		assert.NoError(t, err)
	})

	t.Run("422 is invalid proof with reason", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"reason":"range proof failed"}`))
		})
		err := client.VerifyPresentation(context.Background(), ProofCheck{Presentation: json.RawMessage(`{}`)})
		require.ErrorIs(t, err, ErrInvalidProof)
		assert.Contains(t, err.Error(), "range proof failed")
	})
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		category  Category
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, CategoryRejected, false},
		{"rate limited", http.StatusTooManyRequests, CategoryUnavailable, true},
		{"bad gateway", http.StatusBadGateway, CategoryUnavailable, true},
		{"unavailable", http.StatusServiceUnavailable, CategoryUnavailable, true},
		{"gateway timeout", http.StatusGatewayTimeout, CategoryTimeout, true},
		{"server error", http.StatusInternalServerError, CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := client.LastFinalBlock(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.category, CategoryOf(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestClient_BadJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err := client.LastFinalBlock(context.Background())
	assert.Equal(t, CategoryBadData, CategoryOf(err))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.LastFinalBlock(ctx)
	require.Error(t, err)
	assert.Equal(t, CategoryTimeout, CategoryOf(err))
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint, err := url.Parse(server.URL)
	require.NoError(t, err)
	server.Close()

	client := NewClient(endpoint, time.Second)
	_, err = client.LastFinalBlock(context.Background())
	require.Error(t, err)
	assert.Equal(t, CategoryUnavailable, CategoryOf(err))
}

func TestClient_BreakerOpensOnOutages(t *testing.T) {
	calls := 0
	breaker := circuit.New("ledger", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithBreaker(breaker))

	for range 2 {
		_, err := client.LastFinalBlock(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, circuit.StateOpen, breaker.State())

	_, err := client.LastFinalBlock(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, circuit.ErrOpen))
	assert.Equal(t, 2, calls, "open circuit must not reach the node")
}

func TestClient_BreakerIgnoresNotFound(t *testing.T) {
	breaker := circuit.New("ledger", circuit.WithFailureThreshold(1))
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, WithBreaker(breaker))

	_, err := client.CredentialMetadata(context.Background(), CredentialQuery{})
	require.Error(t, err)
	assert.Equal(t, circuit.StateClosed, breaker.State())
}

func TestClient_RecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, WithMetrics(m))

	_, _ = client.CredentialMetadata(context.Background(), CredentialQuery{})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerRequests.WithLabelValues(MethodCredentialMetadata, "not_found")))
}
