package walletconnect_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"web3id/internal/statement"
	"web3id/internal/wallet"
	"web3id/internal/wallet/walletconnect"
	"web3id/internal/wallet/walletconnect/relaytest"
	"web3id/pkg/domain"
	"web3id/pkg/testutil"
)

const account = "4Y1c27ZRpRut9av69n3i2Ah5AZ7BuXvAiDqzMzrGVCd5xeoXWB"

type ProviderSuite struct {
	suite.Suite
	relay    *relaytest.Server
	wallet   *relaytest.Wallet
	provider *walletconnect.Provider
	uris     []string
	ctx      context.Context
	cancel   context.CancelFunc
}

func TestProviderSuite(t *testing.T) {
	suite.Run(t, new(ProviderSuite))
}

func (s *ProviderSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)
	s.relay = relaytest.NewServer()
	s.wallet = &relaytest.Wallet{Account: account, Chain: "ccd:testnet"}
	s.uris = nil
	s.provider = walletconnect.New(s.relay.URL,
		walletconnect.WithMetadata(walletconnect.Metadata{Name: "suite", Description: "provider tests"}),
		walletconnect.WithPairingHandler(func(uri string) {
			s.uris = append(s.uris, uri)
			s.Require().NoError(s.wallet.Pair(s.ctx, uri))
		}),
	)
}

func (s *ProviderSuite) TearDownTest() {
	_ = s.provider.Disconnect(context.Background())
	s.wallet.Close()
	s.relay.Close()
	s.cancel()
}

func (s *ProviderSuite) connect() {
	accounts, err := s.provider.Connect(s.ctx, wallet.DefaultCapabilities(domain.NetworkTestnet))
	s.Require().NoError(err)
	s.Require().Equal([]string{account}, accounts)
}

func (s *ProviderSuite) TestConnect() {
	events, cancel := s.provider.Subscribe()
	defer cancel()

	s.connect()

	s.Equal(account, s.provider.CurrentAccount())
	s.Equal(wallet.AccountEvent{Account: account}, <-events)
	s.Require().Len(s.uris, 1)
	s.True(strings.HasPrefix(s.uris[0], "wc:"))
	s.Equal("suite", s.wallet.Proposer().Name)

	s.Run("existing session is reused", func() {
		accounts, err := s.provider.Connect(s.ctx, wallet.DefaultCapabilities(domain.NetworkTestnet))
		s.Require().NoError(err)
		s.Equal([]string{account}, accounts)
		s.Len(s.uris, 1, "no second pairing")
	})
}

func (s *ProviderSuite) TestConnect_Declined() {
	s.wallet.Decline = true

	_, err := s.provider.Connect(s.ctx, wallet.DefaultCapabilities(domain.NetworkTestnet))

	s.Require().ErrorIs(err, wallet.ErrConnectionRejected)
	s.Empty(s.provider.CurrentAccount())
}

func (s *ProviderSuite) TestConnect_WrongChain() {
	s.wallet.Chain = "ccd:mainnet"

	_, err := s.provider.Connect(s.ctx, wallet.DefaultCapabilities(domain.NetworkTestnet))

	s.ErrorIs(err, wallet.ErrConnectionRejected)
}

func (s *ProviderSuite) TestRequestVerifiablePresentation() {
	presentation := testutil.PresentationJSON(testutil.TestChallenge, testutil.Web3IDCredential("testnet", 5565, 0, "userId"))
	s.wallet.Handle = func(method string, params json.RawMessage) (any, *walletconnect.RPCError) {
		s.Equal(wallet.MethodRequestVerifiablePresentation, method)
		var wrapped struct {
			ParamsJSON string `json:"paramsJson"`
		}
		s.Require().NoError(json.Unmarshal(params, &wrapped))
		req, err := statement.UnmarshalRequest([]byte(wrapped.ParamsJSON))
		s.Require().NoError(err)
		s.Equal(testutil.TestChallenge, req.Challenge)
		return map[string]string{"verifiablePresentationJson": string(presentation)}, nil
	}
	s.connect()

	raw, err := s.provider.RequestVerifiablePresentation(s.ctx, testutil.TestChallenge, testutil.RevealStatements(5565, "userId"))

	s.Require().NoError(err)
	s.JSONEq(string(presentation), string(raw))
	s.Equal([]string{wallet.MethodRequestVerifiablePresentation}, s.wallet.Requests())
}

func (s *ProviderSuite) TestRequestVerifiablePresentation_UserRejected() {
	s.wallet.Handle = func(string, json.RawMessage) (any, *walletconnect.RPCError) {
		return nil, &walletconnect.RPCError{Code: walletconnect.CodeUserRejected, Message: "Proof request rejected"}
	}
	s.connect()

	_, err := s.provider.RequestVerifiablePresentation(s.ctx, testutil.TestChallenge, testutil.RevealStatements(5565, "userId"))

	s.ErrorIs(err, wallet.ErrUserRejected)
}

func (s *ProviderSuite) TestRequestVerifiablePresentation_Undecodable() {
	s.wallet.Handle = func(string, json.RawMessage) (any, *walletconnect.RPCError) {
		return map[string]string{"verifiablePresentationJson": "not json"}, nil
	}
	s.connect()

	_, err := s.provider.RequestVerifiablePresentation(s.ctx, testutil.TestChallenge, testutil.RevealStatements(5565, "userId"))

	var decodeErr *wallet.DeserializationError
	s.ErrorAs(err, &decodeErr)
}

func (s *ProviderSuite) TestRequestVerifiablePresentation_WalletErrorIsTransportError() {
	s.connect()

	_, err := s.provider.RequestVerifiablePresentation(s.ctx, testutil.TestChallenge, testutil.RevealStatements(5565, "userId"))

	var transportErr *wallet.TransportError
	s.Require().ErrorAs(err, &transportErr)
	s.NotErrorIs(err, wallet.ErrUserRejected)
	var rpcErr *walletconnect.RPCError
	s.Require().ErrorAs(err, &rpcErr)
	s.Equal(-32601, rpcErr.Code)
}

func (s *ProviderSuite) TestRequestVerifiablePresentation_NullPresentation() {
	s.wallet.Handle = func(string, json.RawMessage) (any, *walletconnect.RPCError) {
		return map[string]string{"verifiablePresentationJson": "null"}, nil
	}
	s.connect()

	raw, err := s.provider.RequestVerifiablePresentation(s.ctx, testutil.TestChallenge, testutil.RevealStatements(5565, "userId"))

	s.Nil(raw)
	var decodeErr *wallet.DeserializationError
	s.ErrorAs(err, &decodeErr)
}

func (s *ProviderSuite) TestReconnectAfterAccountsRemoved() {
	s.wallet.Handle = func(string, json.RawMessage) (any, *walletconnect.RPCError) {
		return map[string]string{"hash": "beef"}, nil
	}
	s.connect()
	events, cancel := s.provider.Subscribe()
	defer cancel()

	s.Require().NoError(s.wallet.RemoveAccounts(s.ctx))
	s.True((<-events).Disconnected())
	s.Empty(s.provider.CurrentAccount())

	s.connect()
	s.Len(s.uris, 2, "a session without accounts is paired again")
	s.Equal(wallet.AccountEvent{Account: account}, <-events)

	hash, err := s.provider.SendRegisterData(s.ctx, []byte("anchor"))
	s.Require().NoError(err)
	s.Equal("beef", hash)

	select {
	case ev := <-events:
		s.Failf("unexpected account event", "%+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	s.Equal(account, s.provider.CurrentAccount(), "the replaced connection does not end the new session")
}

func (s *ProviderSuite) TestRequestBeforeConnect() {
	_, err := s.provider.RequestVerifiablePresentation(s.ctx, testutil.TestChallenge, testutil.RevealStatements(5565, "userId"))

	s.ErrorIs(err, wallet.ErrNotConnected)
}

func (s *ProviderSuite) TestSingleFlight() {
	release := make(chan struct{})
	started := make(chan struct{})
	s.wallet.Handle = func(string, json.RawMessage) (any, *walletconnect.RPCError) {
		close(started)
		<-release
		return map[string]string{"verifiablePresentationJson": "{}"}, nil
	}
	s.connect()

	done := make(chan error, 1)
	go func() {
		_, err := s.provider.RequestVerifiablePresentation(s.ctx, testutil.TestChallenge, testutil.RevealStatements(5565, "userId"))
		done <- err
	}()
	<-started

	_, err := s.provider.RequestVerifiablePresentation(s.ctx, testutil.TestChallenge, testutil.RevealStatements(5565, "userId"))
	s.ErrorIs(err, wallet.ErrRequestInFlight)

	close(release)
	s.NoError(<-done)
}

func (s *ProviderSuite) TestSessionDeleteAbortsPendingRequest() {
	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)
	s.wallet.Handle = func(string, json.RawMessage) (any, *walletconnect.RPCError) {
		close(started)
		<-block
		return nil, nil
	}
	s.connect()
	events, cancel := s.provider.Subscribe()
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.provider.RequestVerifiablePresentation(s.ctx, testutil.TestChallenge, testutil.RevealStatements(5565, "userId"))
		done <- err
	}()
	<-started
	s.Require().NoError(s.wallet.DeleteSession(s.ctx))

	err := <-done
	var transportErr *wallet.TransportError
	s.Require().ErrorAs(err, &transportErr)
	s.ErrorIs(err, walletconnect.ErrSessionClosed)
	s.True((<-events).Disconnected())
	s.Empty(s.provider.CurrentAccount())
}

func (s *ProviderSuite) TestCancellationIsTransportError() {
	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)
	s.wallet.Handle = func(string, json.RawMessage) (any, *walletconnect.RPCError) {
		close(started)
		<-block
		return nil, nil
	}
	s.connect()

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() {
		_, err := s.provider.RequestVerifiablePresentation(ctx, testutil.TestChallenge, testutil.RevealStatements(5565, "userId"))
		done <- err
	}()
	<-started
	cancel()

	err := <-done
	var transportErr *wallet.TransportError
	s.Require().ErrorAs(err, &transportErr)
	s.ErrorIs(err, context.Canceled)
}

func (s *ProviderSuite) TestAccountSwitchIsBroadcast() {
	s.connect()
	events, cancel := s.provider.Subscribe()
	defer cancel()

	const next = "3XSLuJcXg6xEua6iBPnWacc3iWh93yEDMCqX8FbE3RDSbEnT9P"
	s.Require().NoError(s.wallet.SwitchAccount(s.ctx, next))

	s.Equal(wallet.AccountEvent{Account: next}, <-events)
	s.Equal(next, s.provider.CurrentAccount())
}

func (s *ProviderSuite) TestSendRegisterData() {
	s.wallet.Handle = func(method string, params json.RawMessage) (any, *walletconnect.RPCError) {
		s.Equal(wallet.MethodSignAndSendTransaction, method)
		s.JSONEq(`{"type":"RegisterData","sender":"`+account+`","payload":{"data":"616e63686f72"}}`, string(params))
		return map[string]string{"hash": "beef"}, nil
	}
	s.connect()

	hash, err := s.provider.SendRegisterData(s.ctx, []byte("anchor"))

	s.Require().NoError(err)
	s.Equal("beef", hash)
}

func (s *ProviderSuite) TestRelayFailureEndsSession() {
	s.connect()
	events, cancel := s.provider.Subscribe()
	defer cancel()

	s.relay.Kick()

	select {
	case ev := <-events:
		s.True(ev.Disconnected())
	case <-s.ctx.Done():
		s.Fail("expected disconnect event")
	}
}

func TestConnect_RelayUnreachable(t *testing.T) {
	relay := relaytest.NewServer()
	url := relay.URL
	relay.Close()

	_, err := walletconnect.New(url).Connect(context.Background(), wallet.DefaultCapabilities(domain.NetworkTestnet))
	assert.ErrorIs(t, err, wallet.ErrProviderNotFound)
}

func TestPairingURI_RoundTrip(t *testing.T) {
	uri := walletconnect.PairingURI("abc123", "wss://relay.example.com")
	assert.Equal(t, "wc:abc123@2?relay-protocol=irn&relay-url=wss%3A%2F%2Frelay.example.com", uri)

	topic, relayURL, err := walletconnect.ParsePairingURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "abc123", topic)
	assert.Equal(t, "wss://relay.example.com", relayURL)

	for _, bad := range []string{"abc@2", "wc:abc@1?x=1", "wc:@2"} {
		_, _, err := walletconnect.ParsePairingURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestAccountFor(t *testing.T) {
	ns := map[string]walletconnect.Namespace{
		"ccd": {Accounts: []string{"ccd:mainnet:AAA", "ccd:testnet:BBB"}},
	}
	assert.Equal(t, "BBB", walletconnect.AccountFor(ns, "ccd:testnet"))
	assert.Empty(t, walletconnect.AccountFor(ns, "ccd:devnet"))
}

func TestWriteQR(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, walletconnect.WriteQR(&buf, walletconnect.PairingURI("abc123", "wss://relay.example.com")))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, len(lines)*2, len([]rune(lines[0])), "modules are two columns wide")
	assert.Contains(t, buf.String(), "██")

	path := filepath.Join(t.TempDir(), "pairing.png")
	require.NoError(t, walletconnect.WriteQRFile(path, "wc:abc123@2", 128))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
