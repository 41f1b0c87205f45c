package domain

import (
	"fmt"
	"strings"
)

// Network identifies the chain a verifier or credential belongs to.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// ParseNetwork accepts "mainnet" or "testnet" in any letter case.
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkMainnet:
		return NetworkMainnet, nil
	case NetworkTestnet:
		return NetworkTestnet, nil
	default:
		return "", fmt.Errorf("invalid network %q: expected mainnet or testnet", s)
	}
}

func (n Network) String() string {
	return string(n)
}
