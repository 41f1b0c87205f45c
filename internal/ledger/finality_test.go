package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedStatus struct {
	mu      sync.Mutex
	answers []func() (*TransactionStatus, error)
	calls   int
}

func (s *scriptedStatus) TransactionStatus(_ context.Context, hash string) (*TransactionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.answers) {
		i = len(s.answers) - 1
	}
	return s.answers[i]()
}

func notFound() (*TransactionStatus, error) {
	return nil, NewError(CategoryNotFound, MethodTransactionStatus, "not found", nil)
}

func state(st TransactionState) func() (*TransactionStatus, error) {
	return func() (*TransactionStatus, error) {
		return &TransactionStatus{Hash: "tx", State: st, Success: true}, nil
	}
}

func fastPolling(attempts int) FinalityOptions {
	return FinalityOptions{Interval: time.Millisecond, MaxAttempts: attempts}
}

func TestAwaitFinality_RetriesUntilFinal(t *testing.T) {
	src := &scriptedStatus{answers: []func() (*TransactionStatus, error){
		notFound,
		state(TransactionReceived),
		state(TransactionCommitted),
		state(TransactionFinalized),
	}}

	status, err := AwaitFinality(context.Background(), src, "tx", fastPolling(10))
	require.NoError(t, err)
	assert.Equal(t, TransactionFinalized, status.State)
	assert.Equal(t, 4, src.calls)
}

func TestAwaitFinality_StopsOnPermanentError(t *testing.T) {
	src := &scriptedStatus{answers: []func() (*TransactionStatus, error){
		func() (*TransactionStatus, error) {
			return nil, NewError(CategoryUnavailable, MethodTransactionStatus, "down", nil)
		},
	}}

	_, err := AwaitFinality(context.Background(), src, "tx", fastPolling(10))
	require.Error(t, err)
	assert.Equal(t, CategoryUnavailable, CategoryOf(err))
	assert.Equal(t, 1, src.calls)
}

func TestAwaitFinality_BoundedAttempts(t *testing.T) {
	src := &scriptedStatus{answers: []func() (*TransactionStatus, error){notFound}}

	_, err := AwaitFinality(context.Background(), src, "tx", fastPolling(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFinalityTimeout))
	assert.Equal(t, 4, src.calls, "one initial attempt plus three retries")
}

func TestAwaitFinality_ContextCancelled(t *testing.T) {
	src := &scriptedStatus{answers: []func() (*TransactionStatus, error){state(TransactionCommitted)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := AwaitFinality(ctx, src, "tx", FinalityOptions{Interval: time.Hour, MaxAttempts: 5})
	assert.ErrorIs(t, err, context.Canceled)
}
