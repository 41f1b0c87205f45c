// Package wallet defines how the client talks to a holder's wallet: connect,
// request a verifiable presentation, send a data registration transaction and
// follow the selected account. Transports live in subpackages.
package wallet

import (
	"context"
	"encoding/json"

	"web3id/internal/statement"
	"web3id/pkg/domain"
)

// RPC method names understood by wallets.
const (
	MethodRequestVerifiablePresentation = "request_verifiable_presentation"
	MethodSignAndSendTransaction        = "sign_and_send_transaction"
)

// Namespace is the chain namespace of account and chain identifiers.
const Namespace = "ccd"

// Capabilities is what the client asks the wallet to allow on connect.
type Capabilities struct {
	Network domain.Network
	Methods []string
	Events  []string
}

// DefaultCapabilities asks for presentations and transactions on network.
func DefaultCapabilities(network domain.Network) Capabilities {
	return Capabilities{
		Network: network,
		Methods: []string{MethodRequestVerifiablePresentation, MethodSignAndSendTransaction},
		Events:  []string{"accounts_changed"},
	}
}

// ChainID returns the namespaced chain identifier, for example "ccd:testnet".
func (c Capabilities) ChainID() string {
	return Namespace + ":" + string(c.Network)
}

// AccountEvent reports a change of the selected account. Account is empty
// when the wallet disconnected.
type AccountEvent struct {
	Account string
}

func (e AccountEvent) Disconnected() bool {
	return e.Account == ""
}

// Provider is a connection to one wallet. A provider serves one request at a
// time; a concurrent call fails with ErrRequestInFlight.
type Provider interface {
	// Connect opens or resumes a session and returns the wallet's accounts.
	Connect(ctx context.Context, caps Capabilities) ([]string, error)
	// RequestVerifiablePresentation asks the holder to prove statements
	// against challenge and returns the presentation JSON.
	RequestVerifiablePresentation(ctx context.Context, challenge string, statements []statement.CredentialStatement) (json.RawMessage, error)
	// SendRegisterData submits a data registration transaction from the
	// connected account and returns its hash.
	SendRegisterData(ctx context.Context, data []byte) (string, error)
	// Subscribe follows account changes until the returned cancel is called.
	Subscribe() (<-chan AccountEvent, func())
	CurrentAccount() string
	Disconnect(ctx context.Context) error
}

// PresentationParams are the RPC parameters of a presentation request.
// statement.Request already encodes to the wallet format.
func PresentationParams(challenge string, statements []statement.CredentialStatement) (statement.Request, error) {
	req := statement.Request{Challenge: challenge, CredentialStatements: statements}
	if err := req.Validate(); err != nil {
		return statement.Request{}, err
	}
	return req, nil
}
