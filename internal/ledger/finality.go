package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StatusSource reports transaction status. *Client implements it.
type StatusSource interface {
	TransactionStatus(ctx context.Context, hash string) (*TransactionStatus, error)
}

// FinalityOptions bounds AwaitFinality.
type FinalityOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

func DefaultFinalityOptions() FinalityOptions {
	return FinalityOptions{
		Interval:    500 * time.Millisecond,
		MaxAttempts: 120,
	}
}

// AwaitFinality polls src until hash is finalized. Not-found and not-yet-final
// answers are retried at a constant interval; any other error stops polling.
// After MaxAttempts retries it returns ErrFinalityTimeout.
func AwaitFinality(ctx context.Context, src StatusSource, hash string, opts FinalityOptions) (*TransactionStatus, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultFinalityOptions().Interval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultFinalityOptions().MaxAttempts
	}

	var final *TransactionStatus
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.Interval), uint64(opts.MaxAttempts)),
		ctx,
	)

	err := backoff.Retry(func() error {
		status, err := src.TransactionStatus(ctx, hash)
		if err != nil {
			if IsNotFound(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if status.State != TransactionFinalized {
			return fmt.Errorf("%w: %s", ErrNotFinal, status.State)
		}
		final = status
		return nil
	}, policy)
	if err == nil {
		return final, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if IsNotFound(err) || errors.Is(err, ErrNotFinal) {
		return nil, fmt.Errorf("%w: %s: %w", ErrFinalityTimeout, hash, err)
	}
	return nil, err
}
