package statement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ValueKind is the type of an attribute value.
type ValueKind int

const (
	ValueString ValueKind = iota + 1
	ValueInteger
	ValueTimestamp
)

func (k ValueKind) String() string {
	switch k {
	case ValueString:
		return "string"
	case ValueInteger:
		return "integer"
	case ValueTimestamp:
		return "date-time"
	default:
		return "unknown"
	}
}

const timestampType = "date-time"

// Value is an attribute value used as a range bound or set member.
// Integers and timestamps are held in canonical text form so values compare
// with == and survive a wire round trip unchanged.
type Value struct {
	kind ValueKind
	raw  string
}

func String(s string) Value {
	return Value{kind: ValueString, raw: s}
}

// Integer wraps an arbitrary precision integer. Wallets exchange these as
// bare JSON numbers that may exceed 2^53.
func Integer(n *big.Int) Value {
	return Value{kind: ValueInteger, raw: n.String()}
}

func Int(n int64) Value {
	return Integer(big.NewInt(n))
}

// Timestamp wraps t normalized to UTC.
func Timestamp(t time.Time) Value {
	return Value{kind: ValueTimestamp, raw: t.UTC().Format(time.RFC3339Nano)}
}

func (v Value) Kind() ValueKind { return v.kind }

// IsZero reports whether v was never assigned.
func (v Value) IsZero() bool { return v.kind == 0 }

// Text returns the string payload, the decimal form of an integer or the
// RFC 3339 form of a timestamp.
func (v Value) Text() string { return v.raw }

// BigInt returns the integer payload, or nil for other kinds.
func (v Value) BigInt() *big.Int {
	if v.kind != ValueInteger {
		return nil
	}
	n, _ := new(big.Int).SetString(v.raw, 10)
	return n
}

// Time returns the timestamp payload, or the zero time for other kinds.
func (v Value) Time() time.Time {
	if v.kind != ValueTimestamp {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, v.raw)
	return t
}

// Compare orders two values of the same kind. Strings compare bytewise.
func (v Value) Compare(o Value) (int, error) {
	if v.kind != o.kind {
		return 0, fmt.Errorf("cannot compare %s with %s", v.kind, o.kind)
	}
	switch v.kind {
	case ValueString:
		return strings.Compare(v.raw, o.raw), nil
	case ValueInteger:
		return v.BigInt().Cmp(o.BigInt()), nil
	case ValueTimestamp:
		return v.Time().Compare(o.Time()), nil
	default:
		return 0, errors.New("cannot compare unset values")
	}
}

func (v Value) String() string {
	return v.raw
}

type wireTimestamp struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueString:
		return json.Marshal(v.raw)
	case ValueInteger:
		return []byte(v.raw), nil
	case ValueTimestamp:
		return json.Marshal(wireTimestamp{Type: timestampType, Timestamp: v.raw})
	default:
		return nil, errors.New("cannot encode unset attribute value")
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty attribute value")
	}
	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case c == '{':
		var ts wireTimestamp
		if err := json.Unmarshal(data, &ts); err != nil {
			return err
		}
		if ts.Type != timestampType {
			return fmt.Errorf("unsupported attribute value type %q", ts.Type)
		}
		t, err := time.Parse(time.RFC3339Nano, ts.Timestamp)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", ts.Timestamp, err)
		}
		*v = Timestamp(t)
		return nil
	case c == '-' || (c >= '0' && c <= '9'):
		n, ok := new(big.Int).SetString(string(data), 10)
		if !ok {
			return fmt.Errorf("invalid integer attribute value %s", data)
		}
		*v = Integer(n)
		return nil
	default:
		return fmt.Errorf("unsupported attribute value %s", data)
	}
}
