package wallet

import (
	"context"
	"encoding/json"

	"web3id/internal/statement"
)

// Session is one proof flow: a provider, a fresh challenge and the request
// frozen at creation. Nothing about the flow lives outside it.
type Session struct {
	provider Provider
	request  statement.Request
}

// NewSession freezes the builder's entries under a new challenge. Invalid
// requests are refused here, before anything reaches the wallet.
func NewSession(provider Provider, builder *statement.Builder) (*Session, error) {
	challenge, err := statement.NewChallenge()
	if err != nil {
		return nil, err
	}
	req, err := builder.Build(challenge)
	if err != nil {
		return nil, err
	}
	return &Session{provider: provider, request: req}, nil
}

// NewSessionFromRequest starts a flow for a request assembled elsewhere,
// for example loaded from a file.
func NewSessionFromRequest(provider Provider, req statement.Request) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &Session{provider: provider, request: req}, nil
}

func (s *Session) Challenge() string {
	return s.request.Challenge
}

func (s *Session) Request() statement.Request {
	return s.request
}

func (s *Session) Provider() Provider {
	return s.provider
}

// Prove asks the wallet for a presentation answering the frozen request.
func (s *Session) Prove(ctx context.Context) (json.RawMessage, error) {
	return s.provider.RequestVerifiablePresentation(ctx, s.request.Challenge, s.request.CredentialStatements)
}
