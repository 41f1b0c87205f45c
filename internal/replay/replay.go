// Package replay records consumed presentation challenges so a presentation
// cannot be accepted twice within the retention window.
package replay

import (
	"context"
	"errors"
	"time"
)

// ErrReplayed is returned by Consume when the challenge was already used.
var ErrReplayed = errors.New("challenge already consumed")

// Store marks challenges as consumed. Consume is atomic: of several
// concurrent calls with the same challenge exactly one succeeds.
type Store interface {
	Consume(ctx context.Context, challenge string, ttl time.Duration) error
}

// Noop accepts every challenge. It keeps the verifier stateless.
type Noop struct{}

func (Noop) Consume(context.Context, string, time.Duration) error {
	return nil
}

const keyPrefix = "web3id:challenge:"

func key(challenge string) string {
	return keyPrefix + challenge
}
