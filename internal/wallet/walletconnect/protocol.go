package walletconnect

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Relay envelope types.
const (
	EnvelopeSubscribe = "subscribe"
	EnvelopePublish   = "publish"
	EnvelopeMessage   = "message"
)

// Session protocol methods.
const (
	MethodSessionPropose = "wc_sessionPropose"
	MethodSessionRequest = "wc_sessionRequest"
	MethodSessionUpdate  = "wc_sessionUpdate"
	MethodSessionDelete  = "wc_sessionDelete"
	MethodSessionPing    = "wc_sessionPing"
)

// CodeUserRejected is the error code a wallet answers with when the holder declines.
const CodeUserRejected = 5000

// Envelope is a relay frame. Publish frames from one client reach every
// other subscriber of Topic as message frames.
type Envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message,omitempty"`
}

// Message is a JSON-RPC message carried inside an envelope.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// Namespace is the per chain namespace negotiated for a session.
type Namespace struct {
	Chains   []string `json:"chains,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
}

// Metadata describes the dApp to the wallet.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type Proposal struct {
	Proposer           Metadata             `json:"proposer"`
	OptionalNamespaces map[string]Namespace `json:"optionalNamespaces"`
}

type Approval struct {
	Topic      string               `json:"topic"`
	Namespaces map[string]Namespace `json:"namespaces"`
}

type SessionRequest struct {
	ChainID string  `json:"chainId"`
	Request Request `json:"request"`
}

type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type SessionUpdate struct {
	Namespaces map[string]Namespace `json:"namespaces"`
}

// NewTopic returns a fresh random topic.
func NewTopic() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// PairingURI encodes what a wallet needs to join the pairing topic.
func PairingURI(topic, relayURL string) string {
	q := url.Values{}
	q.Set("relay-protocol", "irn")
	q.Set("relay-url", relayURL)
	return fmt.Sprintf("wc:%s@2?%s", topic, q.Encode())
}

// ParsePairingURI is the inverse of PairingURI.
func ParsePairingURI(uri string) (topic, relayURL string, err error) {
	rest, ok := strings.CutPrefix(uri, "wc:")
	if !ok {
		return "", "", fmt.Errorf("pairing uri %q: missing wc: scheme", uri)
	}
	head, query, _ := strings.Cut(rest, "?")
	topic, version, ok := strings.Cut(head, "@")
	if !ok || version != "2" || topic == "" {
		return "", "", fmt.Errorf("pairing uri %q: expected <topic>@2", uri)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", "", fmt.Errorf("pairing uri %q: %w", uri, err)
	}
	return topic, values.Get("relay-url"), nil
}

// AccountFor returns the first account of chainID in namespaces. Accounts
// are namespaced as "<namespace>:<network>:<address>".
func AccountFor(namespaces map[string]Namespace, chainID string) string {
	ns, _, _ := strings.Cut(chainID, ":")
	for _, acct := range namespaces[ns].Accounts {
		if addr, ok := strings.CutPrefix(acct, chainID+":"); ok && addr != "" {
			return addr
		}
	}
	return ""
}
