package statement

import (
	"slices"
)

// Entry is one credential statement under construction: a qualifier and
// the predicates a single credential must satisfy.
type Entry struct {
	Qualifier  Qualifier
	Predicates []Predicate
}

// Validate reports why the entry cannot be submitted.
func (e Entry) Validate(index int) error {
	if e.Qualifier == nil || e.Qualifier.Empty() {
		return invalid(index, "", "no issuers selected")
	}
	if len(e.Predicates) == 0 {
		return invalid(index, "", "no predicates")
	}
	return nil
}

func (e Entry) clone() Entry {
	return Entry{Qualifier: cloneQualifier(e.Qualifier), Predicates: clonePredicates(e.Predicates)}
}

// Builder accumulates credential statements until they are frozen into a
// Request. A Builder is not safe for concurrent use.
type Builder struct {
	schemas SchemaSource
	entries []Entry
	openNew bool
}

// NewBuilder returns an empty builder that validates predicates against schemas.
func NewBuilder(schemas SchemaSource) *Builder {
	return &Builder{schemas: schemas, openNew: true}
}

// StartNewTopLevelStatement makes the next AddPredicate open a new entry.
func (b *Builder) StartNewTopLevelStatement() {
	b.openNew = true
}

// AddPredicate validates p and appends it to the open entry when that
// entry has the same qualifier kind. Otherwise a new entry is opened for q.
// Entries whose qualifier lists no issuer are kept so the caller can fix
// them; Build rejects them.
func (b *Builder) AddPredicate(q Qualifier, p Predicate) error {
	index := len(b.entries)
	if q == nil {
		return invalid(index, "", "missing qualifier")
	}
	if p == nil {
		return invalid(index, "", "missing predicate")
	}
	appendToLast := !b.openNew && index > 0 && b.entries[index-1].Qualifier.Kind() == q.Kind()
	if appendToLast {
		index--
		q = b.entries[index].Qualifier
	}

	if err := b.validate(index, q, p); err != nil {
		return err
	}

	if appendToLast {
		b.entries[index].Predicates = append(b.entries[index].Predicates, p)
	} else {
		b.entries = append(b.entries, Entry{Qualifier: cloneQualifier(q), Predicates: []Predicate{p}})
	}
	b.openNew = false
	return nil
}

// RemoveLastStatement drops the most recent entry. It is a no-op when empty.
func (b *Builder) RemoveLastStatement() {
	if len(b.entries) == 0 {
		return
	}
	b.entries = b.entries[:len(b.entries)-1]
}

// Entries returns a copy of the entries built so far.
func (b *Builder) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of entries.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Build freezes the entries into a Request bound to challenge.
func (b *Builder) Build(challenge string) (Request, error) {
	if err := ValidateChallenge(challenge); err != nil {
		return Request{}, err
	}
	if len(b.entries) == 0 {
		return Request{}, invalid(-1, "", "no credential statements")
	}
	statements := make([]CredentialStatement, len(b.entries))
	for i, e := range b.entries {
		if err := e.Validate(i); err != nil {
			return Request{}, err
		}
		c := e.clone()
		statements[i] = CredentialStatement{Qualifier: c.Qualifier, Statement: c.Predicates}
	}
	return Request{Challenge: challenge, CredentialStatements: statements}, nil
}

func (b *Builder) validate(index int, q Qualifier, p Predicate) error {
	if p.AttributeTag() == "" {
		return invalid(index, "", "missing attribute tag")
	}
	if q.Empty() && q.Kind() == QualifierWeb3ID {
		// Without issuers there is no schema to check against; the entry
		// is kept and rejected at Build.
		return validateShape(index, p, 0)
	}
	schema, err := b.schemas.SchemaFor(q)
	if err != nil {
		return invalid(index, p.AttributeTag(), "%v", err)
	}
	kind, ok := schema.Lookup(p.AttributeTag())
	if !ok {
		return invalid(index, p.AttributeTag(), "not part of the credential schema")
	}
	return validateShape(index, p, kind)
}

// validateShape checks value kinds against kind (0 accepts any single kind)
// and that ranges are ordered.
func validateShape(index int, p Predicate, kind ValueKind) error {
	tag := p.AttributeTag()
	checkKind := func(v Value) error {
		if v.IsZero() {
			return invalid(index, tag, "missing value")
		}
		if kind != 0 && v.Kind() != kind {
			return invalid(index, tag, "expected %s value, got %s", kind, v.Kind())
		}
		return nil
	}

	switch p := p.(type) {
	case RevealAttribute:
		return nil
	case AttributeInRange:
		if err := checkKind(p.Lower); err != nil {
			return err
		}
		if err := checkKind(p.Upper); err != nil {
			return err
		}
		cmp, err := p.Lower.Compare(p.Upper)
		if err != nil {
			return invalid(index, tag, "%v", err)
		}
		if cmp > 0 {
			return invalid(index, tag, "lower bound %s is greater than upper bound %s", p.Lower, p.Upper)
		}
		return nil
	case AttributeInSet:
		return validateSet(index, tag, p.Set, checkKind)
	case AttributeNotInSet:
		return validateSet(index, tag, p.Set, checkKind)
	default:
		panic(unknownPredicate(p))
	}
}

func validateSet(index int, tag string, set []Value, checkKind func(Value) error) error {
	if len(set) == 0 {
		return invalid(index, tag, "set must not be empty")
	}
	for _, v := range set {
		if err := checkKind(v); err != nil {
			return err
		}
		if v.Kind() != set[0].Kind() {
			return invalid(index, tag, "set mixes %s and %s values", set[0].Kind(), v.Kind())
		}
	}
	return nil
}

func clonePredicates(ps []Predicate) []Predicate {
	out := make([]Predicate, len(ps))
	for i, p := range ps {
		switch p := p.(type) {
		case RevealAttribute, AttributeInRange:
			out[i] = p
		case AttributeInSet:
			out[i] = AttributeInSet{Tag: p.Tag, Set: slices.Clone(p.Set)}
		case AttributeNotInSet:
			out[i] = AttributeNotInSet{Tag: p.Tag, Set: slices.Clone(p.Set)}
		default:
			panic(unknownPredicate(p))
		}
	}
	return out
}
