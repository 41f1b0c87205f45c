package statement

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"web3id/pkg/domain"
)

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// ParseValue coerces raw user input into a value of the given kind.
func ParseValue(kind ValueKind, raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	switch kind {
	case ValueString:
		return String(s), nil
	case ValueInteger:
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return Value{}, fmt.Errorf("%q is not an integer", raw)
		}
		return Integer(n), nil
	case ValueTimestamp:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return Timestamp(t), nil
			}
		}
		return Value{}, fmt.Errorf("%q is not a date-time", raw)
	default:
		return Value{}, fmt.Errorf("unknown value kind %d", kind)
	}
}

// ParseRange builds an AttributeInRange from raw bounds. Bounds that fail
// coercion or are out of order yield a ValidationError.
func ParseRange(tag string, kind ValueKind, lower, upper string) (AttributeInRange, error) {
	lo, err := ParseValue(kind, lower)
	if err != nil {
		return AttributeInRange{}, invalid(-1, tag, "lower bound: %v", err)
	}
	hi, err := ParseValue(kind, upper)
	if err != nil {
		return AttributeInRange{}, invalid(-1, tag, "upper bound: %v", err)
	}
	p := AttributeInRange{Tag: tag, Lower: lo, Upper: hi}
	if err := validateShape(-1, p, kind); err != nil {
		return AttributeInRange{}, err
	}
	return p, nil
}

// ParseSet builds AttributeInSet (member) or AttributeNotInSet from a
// comma separated list. Members are trimmed; empty members are skipped.
func ParseSet(tag string, kind ValueKind, raw string, member bool) (Predicate, error) {
	var set []Value
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		v, err := ParseValue(kind, part)
		if err != nil {
			return nil, invalid(-1, tag, "set member: %v", err)
		}
		set = append(set, v)
	}

	var p Predicate = AttributeNotInSet{Tag: tag, Set: set}
	if member {
		p = AttributeInSet{Tag: tag, Set: set}
	}
	if err := validateShape(-1, p, kind); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseIssuers parses a comma separated list of issuer contract indexes,
// e.g. "5916,5830". Every issuer gets subindex 0.
func ParseIssuers(raw string) ([]domain.ContractAddress, error) {
	var out []domain.ContractAddress
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		index, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, invalid(-1, "", "invalid issuer index %q", part)
		}
		out = append(out, domain.ContractAddress{Index: index})
	}
	return out, nil
}
