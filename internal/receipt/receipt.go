// Package receipt issues signed attestations for accepted presentations.
//
// A receipt lets a relying backend trust a verdict it did not compute itself:
// the verifier signs the challenge, the network and the block the metadata
// checks ran against. Receipts are HS256 JWTs keyed by a secret derived from
// the operator supplied key.
package receipt

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	dErrors "web3id/pkg/domain-errors"
)

// Issuer is the iss claim of every receipt.
const Issuer = "web3id-verifier"

// MinKeyLength is the shortest operator key accepted, in bytes.
const MinKeyLength = 32

const keyInfo = "web3id receipt signing key v1"

// Claims are the receipt contents. Subject carries the challenge.
type Claims struct {
	Network    string `json:"network"`
	BlockHash  string `json:"block_hash"`
	Statements int    `json:"statements"`
	jwt.RegisteredClaims
}

// Subject describes the accepted presentation being attested.
type Subject struct {
	Challenge  string
	Network    string
	BlockHash  string
	Statements int
}

// Service signs and parses receipts.
type Service struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source used for iat, exp and validation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New derives the signing key from key. The key must be at least MinKeyLength bytes.
func New(key string, ttl time.Duration, opts ...Option) (*Service, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("receipt key must be at least %d bytes", MinKeyLength)
	}
	if ttl <= 0 {
		return nil, errors.New("receipt ttl must be positive")
	}
	derived := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, []byte(keyInfo)), derived); err != nil {
		return nil, fmt.Errorf("derive receipt key: %w", err)
	}
	s := &Service{signingKey: derived, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a receipt for an accepted presentation.
func (s *Service) Issue(sub Subject) (string, error) {
	if sub.Challenge == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "receipt requires a challenge")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Network:    sub.Network,
		BlockHash:  sub.BlockHash,
		Statements: sub.Statements,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   sub.Challenge,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign receipt")
	}
	return signed, nil
}

// Parse validates the signature, issuer and expiry of a receipt.
func (s *Service) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "empty receipt")
	}

	claims := new(Claims)
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, dErrors.New(dErrors.CodeBadRequest, "unexpected signing algorithm")
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, dErrors.New(dErrors.CodeBadRequest, "receipt expired")
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, dErrors.New(dErrors.CodeBadRequest, "invalid receipt signature")
		default:
			return nil, dErrors.New(dErrors.CodeBadRequest, "receipt parse failed")
		}
	}
	if !token.Valid {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid receipt signature")
	}
	return claims, nil
}
