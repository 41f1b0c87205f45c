// Package ledger talks to the node gateway: block info, credential
// metadata, delegated proof verification and transaction finality.
package ledger

import (
	"encoding/json"
	"time"

	"web3id/pkg/domain"
)

// BlockInfo identifies the block the checks are evaluated against.
type BlockInfo struct {
	Hash     string    `json:"blockHash"`
	Height   uint64    `json:"blockHeight"`
	SlotTime time.Time `json:"blockSlotTime"`
}

// CredentialStatus is the registry status of a credential at a block.
type CredentialStatus string

const (
	StatusActive       CredentialStatus = "Active"
	StatusRevoked      CredentialStatus = "Revoked"
	StatusExpired      CredentialStatus = "Expired"
	StatusNotActivated CredentialStatus = "NotActivated"
)

// CredentialQuery asks for the public data of one credential.
type CredentialQuery struct {
	Network domain.Network `json:"network"`
	Block   string         `json:"block"`
	Subject string         `json:"subject"`
	Issuer  string         `json:"issuer"`
}

// CredentialMetadata is the on-chain public data of a credential.
type CredentialMetadata struct {
	Subject    string           `json:"subject"`
	Network    domain.Network   `json:"network"`
	Status     CredentialStatus `json:"status"`
	ValidFrom  time.Time        `json:"validFrom"`
	ValidUntil *time.Time       `json:"validUntil,omitempty"`
	// Initial marks account credentials created through the initial
	// account creation path rather than a normal identity issuance.
	Initial bool `json:"initial,omitempty"`
	// Inputs are the commitments and keys the proof verifier needs.
	Inputs json.RawMessage `json:"inputs,omitempty"`
}

// ProofCheck is the input of a delegated cryptographic verification.
type ProofCheck struct {
	Block        string               `json:"block"`
	Presentation json.RawMessage      `json:"presentation"`
	Inputs       []CredentialMetadata `json:"inputs"`
}

// TransactionState is the lifecycle stage of a submitted transaction.
type TransactionState string

const (
	TransactionReceived  TransactionState = "received"
	TransactionCommitted TransactionState = "committed"
	TransactionFinalized TransactionState = "finalized"
)

// TransactionStatus reports where a transaction is in its lifecycle.
type TransactionStatus struct {
	Hash      string           `json:"hash"`
	State     TransactionState `json:"status"`
	BlockHash string           `json:"blockHash,omitempty"`
	Success   bool             `json:"success"`
}
