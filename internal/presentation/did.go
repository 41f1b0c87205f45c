package presentation

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"web3id/pkg/domain"
)

const didPrefix = "did:ccd:"

// CredentialKind distinguishes ledger-native account credentials from
// Web3 ID credentials held in an issuer registry contract.
type CredentialKind string

const (
	KindAccount CredentialKind = "account"
	KindWeb3ID  CredentialKind = "web3id"
)

// SubjectID is the parsed credentialSubject.id of a credential proof.
//
//	did:ccd:<network>:cred:<credId>
//	did:ccd:<network>:sci:<index>:<subindex>/credentialEntry/<holderKey>
type SubjectID struct {
	Network domain.Network
	Kind    CredentialKind
	// CredID is the hex account credential id (KindAccount).
	CredID string
	// Registry and HolderKey locate the credential entry (KindWeb3ID).
	Registry  domain.ContractAddress
	HolderKey string
}

func (s SubjectID) String() string {
	switch s.Kind {
	case KindAccount:
		return fmt.Sprintf("%s%s:cred:%s", didPrefix, s.Network, s.CredID)
	case KindWeb3ID:
		return fmt.Sprintf("%s%s:sci:%d:%d/credentialEntry/%s", didPrefix, s.Network, s.Registry.Index, s.Registry.Subindex, s.HolderKey)
	default:
		return ""
	}
}

// IssuerID is the parsed issuer of a credential proof.
//
//	did:ccd:<network>:idp:<identityProvider>
//	did:ccd:<network>:sci:<index>:<subindex>/issuer
type IssuerID struct {
	Network          domain.Network
	Kind             CredentialKind
	IdentityProvider uint32
	Registry         domain.ContractAddress
}

func (i IssuerID) String() string {
	switch i.Kind {
	case KindAccount:
		return fmt.Sprintf("%s%s:idp:%d", didPrefix, i.Network, i.IdentityProvider)
	case KindWeb3ID:
		return fmt.Sprintf("%s%s:sci:%d:%d/issuer", didPrefix, i.Network, i.Registry.Index, i.Registry.Subindex)
	default:
		return ""
	}
}

// splitDID returns the network and the method specific remainder.
func splitDID(did string) (domain.Network, string, error) {
	rest, ok := strings.CutPrefix(did, didPrefix)
	if !ok {
		return "", "", fmt.Errorf("%q is not a did:ccd identifier", did)
	}
	netPart, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return "", "", fmt.Errorf("%q: missing network", did)
	}
	network, err := domain.ParseNetwork(netPart)
	if err != nil {
		return "", "", fmt.Errorf("%q: %w", did, err)
	}
	return network, rest, nil
}

func parseRegistry(did, s string) (domain.ContractAddress, error) {
	indexPart, subPart, ok := strings.Cut(s, ":")
	if !ok {
		return domain.ContractAddress{}, fmt.Errorf("%q: contract address must be <index>:<subindex>", did)
	}
	index, err := strconv.ParseUint(indexPart, 10, 64)
	if err != nil {
		return domain.ContractAddress{}, fmt.Errorf("%q: invalid contract index", did)
	}
	subindex, err := strconv.ParseUint(subPart, 10, 64)
	if err != nil {
		return domain.ContractAddress{}, fmt.Errorf("%q: invalid contract subindex", did)
	}
	return domain.ContractAddress{Index: index, Subindex: subindex}, nil
}

func requireHex(did, field, s string) error {
	if s == "" {
		return fmt.Errorf("%q: empty %s", did, field)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("%q: %s is not hex", did, field)
	}
	return nil
}

// ParseSubjectID parses a credential subject DID.
func ParseSubjectID(did string) (SubjectID, error) {
	network, rest, err := splitDID(did)
	if err != nil {
		return SubjectID{}, err
	}
	method, rest, _ := strings.Cut(rest, ":")
	switch method {
	case "cred":
		if err := requireHex(did, "credential id", rest); err != nil {
			return SubjectID{}, err
		}
		return SubjectID{Network: network, Kind: KindAccount, CredID: strings.ToLower(rest)}, nil
	case "sci":
		addr, key, ok := strings.Cut(rest, "/credentialEntry/")
		if !ok {
			return SubjectID{}, fmt.Errorf("%q: missing /credentialEntry/ segment", did)
		}
		registry, err := parseRegistry(did, addr)
		if err != nil {
			return SubjectID{}, err
		}
		if err := requireHex(did, "holder key", key); err != nil {
			return SubjectID{}, err
		}
		return SubjectID{Network: network, Kind: KindWeb3ID, Registry: registry, HolderKey: strings.ToLower(key)}, nil
	default:
		return SubjectID{}, fmt.Errorf("%q: unsupported subject method %q", did, method)
	}
}

// ParseIssuerID parses a credential issuer DID.
func ParseIssuerID(did string) (IssuerID, error) {
	network, rest, err := splitDID(did)
	if err != nil {
		return IssuerID{}, err
	}
	method, rest, _ := strings.Cut(rest, ":")
	switch method {
	case "idp":
		idp, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			return IssuerID{}, fmt.Errorf("%q: invalid identity provider", did)
		}
		return IssuerID{Network: network, Kind: KindAccount, IdentityProvider: uint32(idp)}, nil
	case "sci":
		addr, ok := strings.CutSuffix(rest, "/issuer")
		if !ok {
			return IssuerID{}, fmt.Errorf("%q: missing /issuer suffix", did)
		}
		registry, err := parseRegistry(did, addr)
		if err != nil {
			return IssuerID{}, err
		}
		return IssuerID{Network: network, Kind: KindWeb3ID, Registry: registry}, nil
	default:
		return IssuerID{}, fmt.Errorf("%q: unsupported issuer method %q", did, method)
	}
}
