package testutil

import (
	"encoding/json"
	"fmt"
	"strings"

	"web3id/internal/statement"
	"web3id/pkg/domain"
)

// TestChallenge is a fixed 32 byte challenge in hex.
const TestChallenge = "6c7a3d5e2b1f0a9c8d7e6f5a4b3c2d1e0f9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c"

// TestHolderKey is a Web3 ID holder public key in hex.
const TestHolderKey = "c162a48d2a4e5f8f16d8f2ea0e6c5bd7d1a4a9c3a4bf3f7c3a8f7b2e4d5c6b7a"

// TestCredID is an account credential id in hex.
var TestCredID = strings.Repeat("a5", 48)

// Credential describes one entry of a fixture presentation.
type Credential struct {
	Subject   string
	Issuer    string
	Types     []string
	Statement []map[string]any
}

// Web3IDCredential returns a credential held in registry <index,subindex>
// revealing tags.
func Web3IDCredential(network string, index, subindex uint64, tags ...string) Credential {
	return Credential{
		Subject:   fmt.Sprintf("did:ccd:%s:sci:%d:%d/credentialEntry/%s", network, index, subindex, TestHolderKey),
		Issuer:    fmt.Sprintf("did:ccd:%s:sci:%d:%d/issuer", network, index, subindex),
		Types:     []string{"VerifiableCredential", "ConcordiumVerifiableCredential", "UserCredential"},
		Statement: revealAll(tags),
	}
}

// AccountCredential returns an account credential issued by idp.
func AccountCredential(network string, idp uint32, tags ...string) Credential {
	return Credential{
		Subject:   fmt.Sprintf("did:ccd:%s:cred:%s", network, TestCredID),
		Issuer:    fmt.Sprintf("did:ccd:%s:idp:%d", network, idp),
		Types:     []string{"VerifiableCredential", "ConcordiumVerifiableCredential"},
		Statement: revealAll(tags),
	}
}

func revealAll(tags []string) []map[string]any {
	out := make([]map[string]any, len(tags))
	for i, tag := range tags {
		out[i] = map[string]any{"type": "RevealAttribute", "attributeTag": tag}
	}
	return out
}

func proof(kind string) map[string]any {
	return map[string]any{
		"created":    "2024-05-01T12:00:00Z",
		"proofValue": []any{"00ff"},
		"type":       kind,
	}
}

// PresentationMap builds a presentation as a generic JSON object so tests
// can drop or corrupt fields before encoding.
func PresentationMap(challenge string, creds ...Credential) map[string]any {
	vcs := make([]any, len(creds))
	for i, c := range creds {
		vcs[i] = map[string]any{
			"credentialSubject": map[string]any{
				"id":        c.Subject,
				"statement": c.Statement,
				"proof":     proof("ConcordiumZKProofV3"),
			},
			"issuer": c.Issuer,
			"type":   c.Types,
		}
	}
	return map[string]any{
		"presentationContext":  challenge,
		"proof":                proof("ConcordiumWeakLinkingProofV1"),
		"type":                 "VerifiablePresentation",
		"verifiableCredential": vcs,
	}
}

// PresentationJSON encodes PresentationMap.
func PresentationJSON(challenge string, creds ...Credential) []byte {
	return MustJSON(PresentationMap(challenge, creds...))
}

// MustJSON encodes v and panics on failure.
func MustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// RevealStatements asks a Web3 ID credential from registry <index,0> to
// reveal tags.
func RevealStatements(index uint64, tags ...string) []statement.CredentialStatement {
	preds := make([]statement.Predicate, len(tags))
	for i, tag := range tags {
		preds[i] = statement.RevealAttribute{Tag: tag}
	}
	return []statement.CredentialStatement{{
		Qualifier: statement.Web3IDQualifier{Issuers: []domain.ContractAddress{{Index: index}}},
		Statement: preds,
	}}
}
