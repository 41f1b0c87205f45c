// Package presentation models verifiable presentations returned by wallets
// and parses them from their JSON form.
package presentation

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"web3id/internal/statement"
	"web3id/pkg/domain"
	dErrors "web3id/pkg/domain-errors"
)

// Type is the only accepted value of the presentation "type" field.
const Type = "VerifiablePresentation"

// Presentation is a parsed verifiable presentation. It is never mutated
// after Parse returns.
type Presentation struct {
	// Context is the hex challenge the wallet proved against.
	Context     string
	Proof       json.RawMessage
	Credentials []CredentialProof

	raw []byte
}

// Raw returns the exact bytes the presentation was parsed from.
func (p *Presentation) Raw() []byte {
	return p.raw
}

// CredentialProof binds one credential's statement to its proof.
type CredentialProof struct {
	Subject   SubjectID
	Issuer    IssuerID
	Types     []string
	Statement []statement.Predicate
	Proof     json.RawMessage
}

type wirePresentation struct {
	PresentationContext  *string           `json:"presentationContext"`
	Proof                json.RawMessage   `json:"proof"`
	Type                 *string           `json:"type"`
	VerifiableCredential *[]wireCredential `json:"verifiableCredential"`
}

type wireCredential struct {
	CredentialSubject *wireSubject `json:"credentialSubject"`
	Issuer            *string      `json:"issuer"`
	Type              []string     `json:"type"`
}

type wireSubject struct {
	ID        *string         `json:"id"`
	Statement json.RawMessage `json:"statement"`
	Proof     json.RawMessage `json:"proof"`
}

func malformed(format string, args ...any) error {
	return dErrors.New(dErrors.CodeMalformedInput, fmt.Sprintf(format, args...))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Parse decodes a presentation. Every failure carries
// CodeMalformedInput. Credential status, network and proof validity are
// not judged here.
func Parse(raw []byte) (*Presentation, error) {
	var wire wirePresentation
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedInput, fmt.Sprintf("invalid presentation JSON: %v", err))
	}

	switch {
	case wire.Type == nil:
		return nil, malformed("missing field type")
	case *wire.Type != Type:
		return nil, malformed("type must be %q", Type)
	case wire.PresentationContext == nil:
		return nil, malformed("missing field presentationContext")
	case !isObject(wire.Proof):
		return nil, malformed("missing or invalid field proof")
	case wire.VerifiableCredential == nil:
		return nil, malformed("missing field verifiableCredential")
	case len(*wire.VerifiableCredential) == 0:
		return nil, malformed("verifiableCredential must contain at least one credential")
	}
	challenge, err := hex.DecodeString(*wire.PresentationContext)
	if err != nil {
		return nil, malformed("presentationContext is not hex")
	}

	// Context is canonical lower-case hex so equal challenges compare equal.
	p := &Presentation{
		Context:     hex.EncodeToString(challenge),
		Proof:       wire.Proof,
		Credentials: make([]CredentialProof, len(*wire.VerifiableCredential)),
		raw:         bytes.Clone(raw),
	}
	for i, wc := range *wire.VerifiableCredential {
		cred, err := parseCredential(wc)
		if err != nil {
			return nil, malformed("verifiableCredential[%d]: %v", i, err)
		}
		p.Credentials[i] = cred
	}
	return p, nil
}

func parseCredential(wc wireCredential) (CredentialProof, error) {
	switch {
	case wc.CredentialSubject == nil:
		return CredentialProof{}, fmt.Errorf("missing field credentialSubject")
	case wc.CredentialSubject.ID == nil:
		return CredentialProof{}, fmt.Errorf("missing field credentialSubject.id")
	case wc.CredentialSubject.Statement == nil:
		return CredentialProof{}, fmt.Errorf("missing field credentialSubject.statement")
	case !isObject(wc.CredentialSubject.Proof):
		return CredentialProof{}, fmt.Errorf("missing or invalid field credentialSubject.proof")
	case wc.Issuer == nil:
		return CredentialProof{}, fmt.Errorf("missing field issuer")
	case len(wc.Type) == 0:
		return CredentialProof{}, fmt.Errorf("missing field type")
	}

	subject, err := ParseSubjectID(*wc.CredentialSubject.ID)
	if err != nil {
		return CredentialProof{}, err
	}
	issuer, err := ParseIssuerID(*wc.Issuer)
	if err != nil {
		return CredentialProof{}, err
	}
	if subject.Kind != issuer.Kind {
		return CredentialProof{}, fmt.Errorf("subject %s and issuer %s are of different credential kinds", subject, issuer)
	}
	if subject.Kind == KindWeb3ID && subject.Registry != issuer.Registry {
		return CredentialProof{}, fmt.Errorf("subject registry %s does not match issuer registry %s", subject.Registry, issuer.Registry)
	}
	predicates, err := statement.UnmarshalPredicates(wc.CredentialSubject.Statement)
	if err != nil {
		return CredentialProof{}, fmt.Errorf("credentialSubject.statement: %w", err)
	}

	return CredentialProof{
		Subject:   subject,
		Issuer:    issuer,
		Types:     wc.Type,
		Statement: predicates,
		Proof:     wc.CredentialSubject.Proof,
	}, nil
}

// Qualifier returns the qualifier a credential proof satisfies: the single
// identity provider or registry that issued it.
func (c CredentialProof) Qualifier() statement.Qualifier {
	if c.Issuer.Kind == KindAccount {
		return statement.AccountQualifier{IdentityProviders: []uint32{c.Issuer.IdentityProvider}}
	}
	return statement.Web3IDQualifier{Issuers: []domain.ContractAddress{c.Issuer.Registry}}
}

// Request reconstructs the statement request the presentation answers.
func (p *Presentation) Request() statement.Request {
	req := statement.Request{
		Challenge:            p.Context,
		CredentialStatements: make([]statement.CredentialStatement, len(p.Credentials)),
	}
	for i, c := range p.Credentials {
		req.CredentialStatements[i] = statement.CredentialStatement{Qualifier: c.Qualifier(), Statement: c.Statement}
	}
	return req
}
