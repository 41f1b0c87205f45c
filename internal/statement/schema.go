package statement

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"web3id/pkg/domain"
)

// Schema maps attribute tags to their declared value kind.
type Schema struct {
	attributes map[string]ValueKind
}

func NewSchema(attributes map[string]ValueKind) Schema {
	return Schema{attributes: maps.Clone(attributes)}
}

// Lookup returns the declared kind of tag.
func (s Schema) Lookup(tag string) (ValueKind, bool) {
	k, ok := s.attributes[tag]
	return k, ok
}

// Tags returns the declared attribute tags in sorted order.
func (s Schema) Tags() []string {
	return slices.Sorted(maps.Keys(s.attributes))
}

// accountAttributes are the identity attributes carried by account
// credentials. They are all encoded as strings; dates use YYYYMMDD.
var accountAttributes = []string{
	"firstName",
	"lastName",
	"sex",
	"dob",
	"countryOfResidence",
	"nationality",
	"idDocType",
	"idDocNo",
	"idDocIssuer",
	"idDocIssuedAt",
	"idDocExpiresAt",
	"nationalIdNo",
	"taxIdNo",
	"lei",
	"legalName",
	"legalCountry",
	"businessNumber",
	"registrationAuth",
}

// AccountSchema returns the fixed schema of account credentials.
func AccountSchema() Schema {
	attrs := make(map[string]ValueKind, len(accountAttributes))
	for _, tag := range accountAttributes {
		attrs[tag] = ValueString
	}
	return Schema{attributes: attrs}
}

type jsonSchemaProperty struct {
	Type       string                        `json:"type"`
	Properties map[string]jsonSchemaProperty `json:"properties"`
	Const      string                        `json:"const"`
}

// ParseCredentialSchema extracts attribute kinds from a Web3 ID credential
// JSON schema, reading properties.credentialSubject.properties.attributes.
func ParseCredentialSchema(data []byte) (Schema, error) {
	var root jsonSchemaProperty
	if err := json.Unmarshal(data, &root); err != nil {
		return Schema{}, fmt.Errorf("decode credential schema: %w", err)
	}
	subject, ok := root.Properties["credentialSubject"]
	if !ok {
		return Schema{}, fmt.Errorf("credential schema: missing credentialSubject")
	}
	attributes, ok := subject.Properties["attributes"]
	if !ok {
		return Schema{}, fmt.Errorf("credential schema: missing credentialSubject.attributes")
	}

	out := make(map[string]ValueKind, len(attributes.Properties))
	for tag, prop := range attributes.Properties {
		switch prop.Type {
		case "string":
			out[tag] = ValueString
		case "integer":
			out[tag] = ValueInteger
		case "object":
			if prop.Properties["type"].Const != timestampType {
				return Schema{}, fmt.Errorf("credential schema: attribute %q: unsupported object type", tag)
			}
			out[tag] = ValueTimestamp
		default:
			return Schema{}, fmt.Errorf("credential schema: attribute %q: unsupported type %q", tag, prop.Type)
		}
	}
	return Schema{attributes: out}, nil
}

// SchemaSource resolves the schema that applies to a qualifier.
type SchemaSource interface {
	SchemaFor(q Qualifier) (Schema, error)
}

// Schemas is a SchemaSource backed by known issuer schemas. Account
// qualifiers always resolve to AccountSchema.
type Schemas struct {
	issuers map[domain.ContractAddress]Schema
}

func NewSchemas() *Schemas {
	return &Schemas{issuers: make(map[domain.ContractAddress]Schema)}
}

// Register records the schema of an issuer contract.
func (s *Schemas) Register(issuer domain.ContractAddress, schema Schema) {
	s.issuers[issuer] = schema
}

// SchemaFor returns the intersection of the schemas of every issuer in q:
// a tag is usable only if every listed issuer declares it with the same kind.
func (s *Schemas) SchemaFor(q Qualifier) (Schema, error) {
	switch q := q.(type) {
	case AccountQualifier:
		return AccountSchema(), nil
	case Web3IDQualifier:
		var merged map[string]ValueKind
		for _, issuer := range q.Issuers {
			schema, ok := s.issuers[issuer]
			if !ok {
				return Schema{}, fmt.Errorf("no schema known for issuer %s", issuer)
			}
			if merged == nil {
				merged = maps.Clone(schema.attributes)
				continue
			}
			for tag, kind := range merged {
				if other, ok := schema.attributes[tag]; !ok || other != kind {
					delete(merged, tag)
				}
			}
		}
		return Schema{attributes: merged}, nil
	default:
		panic(fmt.Sprintf("statement: unhandled qualifier %T", q))
	}
}
