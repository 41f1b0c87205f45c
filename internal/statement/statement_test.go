package statement

import (
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"web3id/pkg/domain"
	dErrors "web3id/pkg/domain-errors"
)

const (
	testChallenge = "6c7a3d5e2b1f0a9c8d7e6f5a4b3c2d1e0f9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c"
	userSchema    = `{
		"type": "object",
		"properties": {
			"credentialSubject": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"attributes": {
						"type": "object",
						"properties": {
							"userId": {"type": "string"},
							"score": {"type": "integer"},
							"memberSince": {
								"type": "object",
								"properties": {"type": {"const": "date-time"}, "timestamp": {"type": "string"}}
							}
						}
					}
				}
			}
		}
	}`
)

var testIssuer = domain.ContractAddress{Index: 5565, Subindex: 0}

type BuilderSuite struct {
	suite.Suite
	schemas *Schemas
	builder *Builder
	web3id  Web3IDQualifier
	account AccountQualifier
}

func TestBuilderSuite(t *testing.T) {
	suite.Run(t, new(BuilderSuite))
}

func (s *BuilderSuite) SetupTest() {
	schema, err := ParseCredentialSchema([]byte(userSchema))
	s.Require().NoError(err)
	s.schemas = NewSchemas()
	s.schemas.Register(testIssuer, schema)
	s.builder = NewBuilder(s.schemas)
	s.web3id = Web3IDQualifier{Issuers: []domain.ContractAddress{testIssuer}}
	s.account = AccountQualifier{IdentityProviders: []uint32{0, 1}}
}

func (s *BuilderSuite) requireValidationError(err error) *ValidationError {
	s.T().Helper()
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	return verr
}

func (s *BuilderSuite) TestBuild_EmptyBuilderRejected() {
	_, err := s.builder.Build(testChallenge)
	s.requireValidationError(err)
}

func (s *BuilderSuite) TestBuild_RejectsBadChallenge() {
	s.Require().NoError(s.builder.AddPredicate(s.web3id, RevealAttribute{Tag: "userId"}))

	for _, challenge := range []string{"", "abcd", strings.Repeat("z", 64)} {
		_, err := s.builder.Build(challenge)
		s.requireValidationError(err)
	}
}

func (s *BuilderSuite) TestAddPredicate_SameKindAppends() {
	s.Require().NoError(s.builder.AddPredicate(s.web3id, RevealAttribute{Tag: "userId"}))
	s.Require().NoError(s.builder.AddPredicate(s.web3id, AttributeInRange{Tag: "score", Lower: Int(1), Upper: Int(10)}))

	entries := s.builder.Entries()
	s.Require().Len(entries, 1)
	s.Len(entries[0].Predicates, 2)
}

func (s *BuilderSuite) TestAddPredicate_KindChangeOpensEntry() {
	s.Require().NoError(s.builder.AddPredicate(s.web3id, RevealAttribute{Tag: "userId"}))
	s.Require().NoError(s.builder.AddPredicate(s.account, RevealAttribute{Tag: "nationality"}))

	entries := s.builder.Entries()
	s.Require().Len(entries, 2)
	s.Equal(QualifierWeb3ID, entries[0].Qualifier.Kind())
	s.Equal(QualifierAccount, entries[1].Qualifier.Kind())
}

func (s *BuilderSuite) TestStartNewTopLevelStatement() {
	s.Require().NoError(s.builder.AddPredicate(s.web3id, RevealAttribute{Tag: "userId"}))
	s.builder.StartNewTopLevelStatement()
	s.Require().NoError(s.builder.AddPredicate(s.web3id, RevealAttribute{Tag: "score"}))

	s.Equal(2, s.builder.Len())
}

func (s *BuilderSuite) TestAddPredicate_NilArgumentsRejected() {
	verr := s.requireValidationError(s.builder.AddPredicate(nil, RevealAttribute{Tag: "userId"}))
	s.Contains(verr.Message, "missing qualifier")

	verr = s.requireValidationError(s.builder.AddPredicate(s.web3id, nil))
	s.Contains(verr.Message, "missing predicate")

	s.Require().NoError(s.builder.AddPredicate(s.web3id, RevealAttribute{Tag: "userId"}))
	s.requireValidationError(s.builder.AddPredicate(nil, RevealAttribute{Tag: "score"}))
	s.Equal(1, s.builder.Len())
	s.Len(s.builder.Entries()[0].Predicates, 1)
}

func (s *BuilderSuite) TestAddPredicate_RangeLowerAboveUpperRejected() {
	err := s.builder.AddPredicate(s.web3id, AttributeInRange{Tag: "score", Lower: Int(20), Upper: Int(10)})
	verr := s.requireValidationError(err)
	s.Equal("score", verr.Tag)
	s.Zero(s.builder.Len())

	early := Timestamp(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	late := Timestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	err = s.builder.AddPredicate(s.web3id, AttributeInRange{Tag: "memberSince", Lower: late, Upper: early})
	s.requireValidationError(err)
}

func (s *BuilderSuite) TestAddPredicate_UnknownTagRejected() {
	err := s.builder.AddPredicate(s.web3id, RevealAttribute{Tag: "favouriteColour"})
	s.requireValidationError(err)

	err = s.builder.AddPredicate(s.account, RevealAttribute{Tag: "userId"})
	s.requireValidationError(err)
}

func (s *BuilderSuite) TestAddPredicate_WrongValueKindRejected() {
	err := s.builder.AddPredicate(s.web3id, AttributeInRange{Tag: "score", Lower: String("a"), Upper: String("b")})
	s.requireValidationError(err)

	err = s.builder.AddPredicate(s.web3id, AttributeInSet{Tag: "userId", Set: []Value{String("a"), Int(1)}})
	s.requireValidationError(err)

	err = s.builder.AddPredicate(s.web3id, AttributeNotInSet{Tag: "userId"})
	s.requireValidationError(err)
}

func (s *BuilderSuite) TestAddPredicate_UnknownIssuerRejected() {
	other := Web3IDQualifier{Issuers: []domain.ContractAddress{{Index: 1}}}
	err := s.builder.AddPredicate(other, RevealAttribute{Tag: "userId"})
	s.requireValidationError(err)
}

func (s *BuilderSuite) TestEmptyQualifierKeptButBuildRejects() {
	s.Require().NoError(s.builder.AddPredicate(Web3IDQualifier{}, RevealAttribute{Tag: "userId"}))
	s.Equal(1, s.builder.Len())

	_, err := s.builder.Build(testChallenge)
	verr := s.requireValidationError(err)
	s.Equal(0, verr.Entry)
}

func (s *BuilderSuite) TestRemoveLastStatement() {
	s.builder.RemoveLastStatement()
	s.Zero(s.builder.Len())

	s.Require().NoError(s.builder.AddPredicate(s.web3id, RevealAttribute{Tag: "userId"}))
	s.Require().NoError(s.builder.AddPredicate(s.account, RevealAttribute{Tag: "dob"}))
	s.builder.RemoveLastStatement()
	s.Equal(1, s.builder.Len())
	s.builder.RemoveLastStatement()
	s.builder.RemoveLastStatement()
	s.Zero(s.builder.Len())
}

func (s *BuilderSuite) TestBuild_RequestIsFrozen() {
	s.Require().NoError(s.builder.AddPredicate(s.web3id, AttributeInSet{Tag: "userId", Set: []Value{String("alice")}}))
	req, err := s.builder.Build(testChallenge)
	s.Require().NoError(err)

	s.Require().NoError(s.builder.AddPredicate(s.web3id, RevealAttribute{Tag: "score"}))
	s.Len(req.CredentialStatements[0].Statement, 1)
	s.NoError(req.Validate())
}

func TestRequest_WireFormat(t *testing.T) {
	req := Request{
		Challenge: testChallenge,
		CredentialStatements: []CredentialStatement{{
			Qualifier: Web3IDQualifier{Issuers: []domain.ContractAddress{testIssuer}},
			Statement: []Predicate{RevealAttribute{Tag: "userId"}},
		}},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"challenge": "`+testChallenge+`",
		"credentialStatements": [{
			"idQualifier": {"type": "sci", "issuers": [{"index": 5565, "subindex": 0}]},
			"statement": [{"type": "RevealAttribute", "attributeTag": "userId"}]
		}]
	}`, string(data))
}

func TestRequest_RoundTrip(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	req := Request{
		Challenge: testChallenge,
		CredentialStatements: []CredentialStatement{
			{
				Qualifier: Web3IDQualifier{Issuers: []domain.ContractAddress{testIssuer, {Index: 5830, Subindex: 1}}},
				Statement: []Predicate{
					RevealAttribute{Tag: "userId"},
					AttributeInRange{Tag: "score", Lower: Int(-5), Upper: Integer(huge)},
					AttributeInRange{
						Tag:   "memberSince",
						Lower: Timestamp(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
						Upper: Timestamp(time.Date(2030, 6, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))),
					},
				},
			},
			{
				Qualifier: AccountQualifier{IdentityProviders: []uint32{0, 3}},
				Statement: []Predicate{
					AttributeInSet{Tag: "nationality", Set: []Value{String("DK"), String("DE")}},
					AttributeNotInSet{Tag: "countryOfResidence", Set: []Value{String("US")}},
				},
			},
		},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"upper":123456789012345678901234567890`)
	assert.Contains(t, string(data), `{"type":"date-time","timestamp":"2030-06-01T11:30:00Z"}`)

	decoded, err := UnmarshalRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)

	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestUnmarshalRequest_Errors(t *testing.T) {
	prefix := `{"challenge":"","credentialStatements":[`
	cases := []struct {
		name string
		body string
	}{
		{
			name: "unknown qualifier",
			body: prefix + `{"idQualifier":{"type":"x","issuers":[]},"statement":[]}]}`,
		},
		{
			name: "unknown statement",
			body: prefix + `{"idQualifier":{"type":"cred","issuers":[0]},"statement":[{"type":"Nope","attributeTag":"a"}]}]}`,
		},
		{
			name: "range without bounds",
			body: prefix + `{"idQualifier":{"type":"cred","issuers":[0]},"statement":[{"type":"AttributeInRange","attributeTag":"dob"}]}]}`,
		},
		{
			name: "fractional integer",
			body: prefix + `{"idQualifier":{"type":"cred","issuers":[0]},"statement":[{"type":"AttributeInSet","attributeTag":"dob","set":[1.5]}]}]}`,
		},
		{
			name: "not json",
			body: `{`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := UnmarshalRequest([]byte(tc.body))
			assert.Error(t, err)
		})
	}
}

func TestRequestValidate(t *testing.T) {
	empty := Request{Challenge: testChallenge, CredentialStatements: []CredentialStatement{{
		Qualifier: AccountQualifier{IdentityProviders: []uint32{0}},
	}}}
	var verr *ValidationError
	require.ErrorAs(t, empty.Validate(), &verr)
	assert.Contains(t, verr.Message, "no predicates")

	inverted := Request{Challenge: testChallenge, CredentialStatements: []CredentialStatement{{
		Qualifier: AccountQualifier{IdentityProviders: []uint32{0}},
		Statement: []Predicate{AttributeInRange{Tag: "dob", Lower: String("20000101"), Upper: String("19900101")}},
	}}}
	assert.ErrorAs(t, inverted.Validate(), &verr)
}

func TestUnmarshalCredentialStatements(t *testing.T) {
	statements, err := UnmarshalCredentialStatements([]byte(`[
		{"idQualifier":{"type":"sci","issuers":[{"index":5565,"subindex":0}]},
		 "statement":[{"type":"RevealAttribute","attributeTag":"userId"}]}
	]`))
	require.NoError(t, err)
	require.Len(t, statements, 1)
	assert.Equal(t, RevealAttribute{Tag: "userId"}, statements[0].Statement[0])
}

func TestParseRange(t *testing.T) {
	p, err := ParseRange("score", ValueInteger, " 3 ", "18446744073709551617")
	require.NoError(t, err)
	assert.Equal(t, "3", p.Lower.Text())

	_, err = ParseRange("score", ValueInteger, "abc", "10")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = ParseRange("score", ValueInteger, "10", "3")
	assert.ErrorAs(t, err, &verr)

	p, err = ParseRange("memberSince", ValueTimestamp, "2020-01-01", "2021-01-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2020, p.Lower.Time().Year())
}

func TestParseSet(t *testing.T) {
	p, err := ParseSet("nationality", ValueString, "DK, DE ,, FR", true)
	require.NoError(t, err)
	assert.Equal(t, AttributeInSet{Tag: "nationality", Set: []Value{String("DK"), String("DE"), String("FR")}}, p)

	p, err = ParseSet("score", ValueInteger, "1,2", false)
	require.NoError(t, err)
	assert.Equal(t, KindAttributeNotInSet, p.Kind())

	_, err = ParseSet("score", ValueInteger, "1,x", true)
	assert.Error(t, err)
	_, err = ParseSet("score", ValueInteger, " , ", true)
	assert.Error(t, err)
}

func TestParseIssuers(t *testing.T) {
	issuers, err := ParseIssuers("5916, 5830")
	require.NoError(t, err)
	assert.Equal(t, []domain.ContractAddress{{Index: 5916}, {Index: 5830}}, issuers)

	_, err = ParseIssuers("59a")
	assert.Error(t, err)
}

func TestParseCredentialSchema(t *testing.T) {
	schema, err := ParseCredentialSchema([]byte(userSchema))
	require.NoError(t, err)
	assert.Equal(t, []string{"memberSince", "score", "userId"}, schema.Tags())
	kind, ok := schema.Lookup("memberSince")
	require.True(t, ok)
	assert.Equal(t, ValueTimestamp, kind)

	_, err = ParseCredentialSchema([]byte(`{"properties":{}}`))
	assert.Error(t, err)
	_, err = ParseCredentialSchema([]byte(`{"properties":{"credentialSubject":{"properties":{"attributes":{"properties":{"x":{"type":"array"}}}}}}}`))
	assert.Error(t, err)
}

func TestSchemasIntersection(t *testing.T) {
	schemas := NewSchemas()
	schemas.Register(domain.ContractAddress{Index: 1}, NewSchema(map[string]ValueKind{"a": ValueString, "b": ValueInteger}))
	schemas.Register(domain.ContractAddress{Index: 2}, NewSchema(map[string]ValueKind{"a": ValueString, "b": ValueString}))

	schema, err := schemas.SchemaFor(Web3IDQualifier{Issuers: []domain.ContractAddress{{Index: 1}, {Index: 2}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, schema.Tags())

	schema, err = schemas.SchemaFor(AccountQualifier{})
	require.NoError(t, err)
	assert.Contains(t, schema.Tags(), "dob")
}

func TestValueCompare(t *testing.T) {
	cmp, err := Int(2).Compare(Int(10))
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = String("b").Compare(String("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	_, err = String("1").Compare(Int(1))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "reveal userId", Describe(RevealAttribute{Tag: "userId"}))
	assert.Equal(t, "score in [1, 5)", Describe(AttributeInRange{Tag: "score", Lower: Int(1), Upper: Int(5)}))
	assert.Equal(t, "sex not in {1, 2}", Describe(AttributeNotInSet{Tag: "sex", Set: []Value{String("1"), String("2")}}))
}

func TestValidationError_Message(t *testing.T) {
	err := error(&ValidationError{Entry: 2, Tag: "dob", Message: "bad"})
	assert.Equal(t, `credential statement 2: attribute "dob": bad`, err.Error())
	assert.True(t, errors.Is(err, dErrors.New(dErrors.CodeValidation, "")))
}
