package statement

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the wire name of an atomic predicate.
type Kind string

const (
	KindRevealAttribute   Kind = "RevealAttribute"
	KindAttributeInRange  Kind = "AttributeInRange"
	KindAttributeInSet    Kind = "AttributeInSet"
	KindAttributeNotInSet Kind = "AttributeNotInSet"
)

// Predicate is an atomic claim about one attribute. The set of
// implementations is closed: RevealAttribute, AttributeInRange,
// AttributeInSet and AttributeNotInSet.
type Predicate interface {
	Kind() Kind
	AttributeTag() string
	isPredicate()
}

type RevealAttribute struct {
	Tag string
}

// AttributeInRange proves Lower <= attribute < Upper.
type AttributeInRange struct {
	Tag   string
	Lower Value
	Upper Value
}

type AttributeInSet struct {
	Tag string
	Set []Value
}

type AttributeNotInSet struct {
	Tag string
	Set []Value
}

func (RevealAttribute) Kind() Kind   { return KindRevealAttribute }
func (AttributeInRange) Kind() Kind  { return KindAttributeInRange }
func (AttributeInSet) Kind() Kind    { return KindAttributeInSet }
func (AttributeNotInSet) Kind() Kind { return KindAttributeNotInSet }

func (p RevealAttribute) AttributeTag() string   { return p.Tag }
func (p AttributeInRange) AttributeTag() string  { return p.Tag }
func (p AttributeInSet) AttributeTag() string    { return p.Tag }
func (p AttributeNotInSet) AttributeTag() string { return p.Tag }

func (RevealAttribute) isPredicate()   {}
func (AttributeInRange) isPredicate()  {}
func (AttributeInSet) isPredicate()    {}
func (AttributeNotInSet) isPredicate() {}

func unknownPredicate(p Predicate) string {
	return fmt.Sprintf("statement: unhandled predicate %T", p)
}

// Describe renders a predicate for terminal output.
func Describe(p Predicate) string {
	switch p := p.(type) {
	case RevealAttribute:
		return fmt.Sprintf("reveal %s", p.Tag)
	case AttributeInRange:
		return fmt.Sprintf("%s in [%s, %s)", p.Tag, p.Lower, p.Upper)
	case AttributeInSet:
		return fmt.Sprintf("%s in {%s}", p.Tag, joinValues(p.Set))
	case AttributeNotInSet:
		return fmt.Sprintf("%s not in {%s}", p.Tag, joinValues(p.Set))
	default:
		panic(unknownPredicate(p))
	}
}

func joinValues(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

type wirePredicate struct {
	Type         Kind    `json:"type"`
	AttributeTag string  `json:"attributeTag"`
	Lower        *Value  `json:"lower,omitempty"`
	Upper        *Value  `json:"upper,omitempty"`
	Set          []Value `json:"set,omitempty"`
}

func toWire(p Predicate) wirePredicate {
	w := wirePredicate{Type: p.Kind(), AttributeTag: p.AttributeTag()}
	switch p := p.(type) {
	case RevealAttribute:
	case AttributeInRange:
		w.Lower, w.Upper = &p.Lower, &p.Upper
	case AttributeInSet:
		w.Set = p.Set
	case AttributeNotInSet:
		w.Set = p.Set
	default:
		panic(unknownPredicate(p))
	}
	return w
}

func fromWire(w wirePredicate) (Predicate, error) {
	if w.AttributeTag == "" {
		return nil, fmt.Errorf("%s: missing attributeTag", w.Type)
	}
	switch w.Type {
	case KindRevealAttribute:
		return RevealAttribute{Tag: w.AttributeTag}, nil
	case KindAttributeInRange:
		if w.Lower == nil || w.Upper == nil {
			return nil, fmt.Errorf("%s: lower and upper are required", w.Type)
		}
		return AttributeInRange{Tag: w.AttributeTag, Lower: *w.Lower, Upper: *w.Upper}, nil
	case KindAttributeInSet:
		return AttributeInSet{Tag: w.AttributeTag, Set: w.Set}, nil
	case KindAttributeNotInSet:
		return AttributeNotInSet{Tag: w.AttributeTag, Set: w.Set}, nil
	default:
		return nil, fmt.Errorf("unknown statement type %q", w.Type)
	}
}

// MarshalPredicates encodes predicates in the wallet statement format.
func MarshalPredicates(ps []Predicate) ([]byte, error) {
	wire := make([]wirePredicate, len(ps))
	for i, p := range ps {
		wire[i] = toWire(p)
	}
	return json.Marshal(wire)
}

// UnmarshalPredicates decodes a JSON array of atomic statements.
func UnmarshalPredicates(data []byte) ([]Predicate, error) {
	var wire []wirePredicate
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	out := make([]Predicate, len(wire))
	for i, w := range wire {
		p, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}
