package statement

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ChallengeSize is the length in bytes of a presentation challenge.
const ChallengeSize = 32

// CredentialStatement pairs a qualifier with the predicates one credential must prove.
type CredentialStatement struct {
	Qualifier Qualifier
	Statement []Predicate
}

// Request is a frozen presentation request: the challenge and the ordered
// credential statements sent to the wallet.
type Request struct {
	Challenge            string
	CredentialStatements []CredentialStatement
}

// NewChallenge returns 32 random bytes, hex encoded.
func NewChallenge() (string, error) {
	buf := make([]byte, ChallengeSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidateChallenge requires exactly 64 hex characters.
func ValidateChallenge(challenge string) error {
	raw, err := hex.DecodeString(challenge)
	if err != nil || len(raw) != ChallengeSize {
		return invalid(-1, "", "challenge must be %d hex-encoded bytes", ChallengeSize)
	}
	return nil
}

// Validate checks a request assembled outside the Builder, for example one
// loaded from a file, with the same rules Build applies.
func (r Request) Validate() error {
	if err := ValidateChallenge(r.Challenge); err != nil {
		return err
	}
	if len(r.CredentialStatements) == 0 {
		return invalid(-1, "", "no credential statements")
	}
	for i, cs := range r.CredentialStatements {
		if err := (Entry{Qualifier: cs.Qualifier, Predicates: cs.Statement}).Validate(i); err != nil {
			return err
		}
		for _, p := range cs.Statement {
			if p.AttributeTag() == "" {
				return invalid(i, "", "missing attribute tag")
			}
			if err := validateShape(i, p, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

type wireCredentialStatement struct {
	IDQualifier wireQualifier   `json:"idQualifier"`
	Statement   json.RawMessage `json:"statement"`
}

type wireRequest struct {
	Challenge            string                    `json:"challenge"`
	CredentialStatements []wireCredentialStatement `json:"credentialStatements"`
}

// MarshalJSON encodes the request as the wallet RPC parameters.
func (r Request) MarshalJSON() ([]byte, error) {
	wire := wireRequest{
		Challenge:            r.Challenge,
		CredentialStatements: make([]wireCredentialStatement, len(r.CredentialStatements)),
	}
	for i, cs := range r.CredentialStatements {
		q, err := marshalQualifier(cs.Qualifier)
		if err != nil {
			return nil, err
		}
		st, err := MarshalPredicates(cs.Statement)
		if err != nil {
			return nil, err
		}
		wire.CredentialStatements[i] = wireCredentialStatement{IDQualifier: q, Statement: st}
	}
	return json.Marshal(wire)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	parsed, err := UnmarshalRequest(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UnmarshalRequest decodes wallet RPC parameters.
func UnmarshalRequest(data []byte) (Request, error) {
	var wire wireRequest
	if err := json.Unmarshal(data, &wire); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	req := Request{
		Challenge:            wire.Challenge,
		CredentialStatements: make([]CredentialStatement, len(wire.CredentialStatements)),
	}
	for i, w := range wire.CredentialStatements {
		q, err := unmarshalQualifier(w.IDQualifier)
		if err != nil {
			return Request{}, fmt.Errorf("credential statement %d: %w", i, err)
		}
		st, err := UnmarshalPredicates(w.Statement)
		if err != nil {
			return Request{}, fmt.Errorf("credential statement %d: %w", i, err)
		}
		req.CredentialStatements[i] = CredentialStatement{Qualifier: q, Statement: st}
	}
	return req, nil
}

// UnmarshalCredentialStatements decodes a bare credentialStatements array,
// the format statement files are stored in.
func UnmarshalCredentialStatements(data []byte) ([]CredentialStatement, error) {
	wrapped, err := json.Marshal(wireEnvelope{CredentialStatements: data})
	if err != nil {
		return nil, err
	}
	req, err := UnmarshalRequest(wrapped)
	if err != nil {
		return nil, err
	}
	return req.CredentialStatements, nil
}

type wireEnvelope struct {
	CredentialStatements json.RawMessage `json:"credentialStatements"`
}
