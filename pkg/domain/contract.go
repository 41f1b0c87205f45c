package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ContractAddress is the on-chain address of a smart contract instance,
// for example a credential registry acting as a Web3 ID issuer.
type ContractAddress struct {
	Index    uint64 `json:"index"`
	Subindex uint64 `json:"subindex"`
}

// String renders the address in the "<index,subindex>" notation.
func (c ContractAddress) String() string {
	return fmt.Sprintf("<%d,%d>", c.Index, c.Subindex)
}

// ParseContractAddress accepts "<5565,0>" as well as the bare "5565,0".
func ParseContractAddress(s string) (ContractAddress, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "<")
	trimmed = strings.TrimSuffix(trimmed, ">")
	parts := strings.Split(trimmed, ",")
	if len(parts) != 2 {
		return ContractAddress{}, fmt.Errorf("invalid contract address %q: expected <index,subindex>", s)
	}
	index, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return ContractAddress{}, fmt.Errorf("invalid contract index in %q: %w", s, err)
	}
	subindex, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return ContractAddress{}, fmt.Errorf("invalid contract subindex in %q: %w", s, err)
	}
	return ContractAddress{Index: index, Subindex: subindex}, nil
}
