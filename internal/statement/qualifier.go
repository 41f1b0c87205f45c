package statement

import (
	"encoding/json"
	"fmt"
	"slices"

	"web3id/pkg/domain"
)

// QualifierKind is the wire tag of a credential qualifier.
type QualifierKind string

const (
	// QualifierAccount selects account credentials by identity provider.
	QualifierAccount QualifierKind = "cred"
	// QualifierWeb3ID selects Web3 ID credentials by issuer contract.
	QualifierWeb3ID QualifierKind = "sci"
)

// Qualifier names the issuers a credential statement accepts. It is either
// AccountQualifier or Web3IDQualifier.
type Qualifier interface {
	Kind() QualifierKind
	// Empty reports whether no issuer is listed. Requests with an empty
	// qualifier are not valid.
	Empty() bool
	isQualifier()
}

type AccountQualifier struct {
	IdentityProviders []uint32
}

type Web3IDQualifier struct {
	Issuers []domain.ContractAddress
}

func (AccountQualifier) Kind() QualifierKind { return QualifierAccount }
func (Web3IDQualifier) Kind() QualifierKind  { return QualifierWeb3ID }

func (q AccountQualifier) Empty() bool { return len(q.IdentityProviders) == 0 }
func (q Web3IDQualifier) Empty() bool  { return len(q.Issuers) == 0 }

func (AccountQualifier) isQualifier() {}
func (Web3IDQualifier) isQualifier()  {}

func cloneQualifier(q Qualifier) Qualifier {
	switch q := q.(type) {
	case AccountQualifier:
		return AccountQualifier{IdentityProviders: slices.Clone(q.IdentityProviders)}
	case Web3IDQualifier:
		return Web3IDQualifier{Issuers: slices.Clone(q.Issuers)}
	default:
		panic(fmt.Sprintf("statement: unhandled qualifier %T", q))
	}
}

type wireQualifier struct {
	Type    QualifierKind   `json:"type"`
	Issuers json.RawMessage `json:"issuers"`
}

func marshalQualifier(q Qualifier) (wireQualifier, error) {
	var (
		issuers []byte
		err     error
	)
	switch q := q.(type) {
	case AccountQualifier:
		issuers, err = json.Marshal(nonNil(q.IdentityProviders))
	case Web3IDQualifier:
		issuers, err = json.Marshal(nonNil(q.Issuers))
	default:
		panic(fmt.Sprintf("statement: unhandled qualifier %T", q))
	}
	if err != nil {
		return wireQualifier{}, err
	}
	return wireQualifier{Type: q.Kind(), Issuers: issuers}, nil
}

func unmarshalQualifier(w wireQualifier) (Qualifier, error) {
	switch w.Type {
	case QualifierAccount:
		var idps []uint32
		if err := json.Unmarshal(w.Issuers, &idps); err != nil {
			return nil, fmt.Errorf("idQualifier cred issuers: %w", err)
		}
		return AccountQualifier{IdentityProviders: idps}, nil
	case QualifierWeb3ID:
		var issuers []domain.ContractAddress
		if err := json.Unmarshal(w.Issuers, &issuers); err != nil {
			return nil, fmt.Errorf("idQualifier sci issuers: %w", err)
		}
		return Web3IDQualifier{Issuers: issuers}, nil
	default:
		return nil, fmt.Errorf("unknown idQualifier type %q", w.Type)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
