// Package relaytest provides an in-process relay and a scripted wallet for
// testing walletconnect clients, in the spirit of net/http/httptest.
package relaytest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"nhooyr.io/websocket"

	"web3id/internal/wallet/walletconnect"
)

// Server is a relay: publish frames reach every other subscriber of the
// topic, and frames published before anyone else subscribed are kept until
// someone does.
type Server struct {
	URL string

	http    *httptest.Server
	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	subs    map[string]map[*websocket.Conn]struct{}
	backlog map[string][][]byte
}

func NewServer() *Server {
	s := &Server{
		conns:   make(map[*websocket.Conn]struct{}),
		subs:    make(map[string]map[*websocket.Conn]struct{}),
		backlog: make(map[string][][]byte),
	}
	s.http = httptest.NewServer(http.HandlerFunc(s.serve))
	s.URL = "ws" + strings.TrimPrefix(s.http.URL, "http")
	return s
}

// Close drops every client connection and stops the server.
func (s *Server) Close() {
	s.closeAll(websocket.StatusGoingAway, "relay shutting down")
	s.http.Close()
}

// Kick closes every client connection with an abnormal status, as a relay
// failure would.
func (s *Server) Kick() {
	s.closeAll(websocket.StatusInternalError, "relay failure")
}

func (s *Server) closeAll(code websocket.StatusCode, reason string) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(code, reason)
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer s.drop(conn)

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env walletconnect.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case walletconnect.EnvelopeSubscribe:
			s.subscribe(ctx, conn, env.Topic)
		case walletconnect.EnvelopePublish:
			s.publish(ctx, conn, env)
		}
	}
}

func (s *Server) subscribe(ctx context.Context, conn *websocket.Conn, topic string) {
	s.mu.Lock()
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[*websocket.Conn]struct{})
	}
	s.subs[topic][conn] = struct{}{}
	queued := s.backlog[topic]
	delete(s.backlog, topic)
	s.mu.Unlock()

	for _, frame := range queued {
		_ = conn.Write(ctx, websocket.MessageText, frame)
	}
}

func (s *Server) publish(ctx context.Context, from *websocket.Conn, env walletconnect.Envelope) {
	frame, err := json.Marshal(walletconnect.Envelope{Type: walletconnect.EnvelopeMessage, Topic: env.Topic, Message: env.Message})
	if err != nil {
		return
	}

	s.mu.Lock()
	var targets []*websocket.Conn
	for c := range s.subs[env.Topic] {
		if c != from {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		s.backlog[env.Topic] = append(s.backlog[env.Topic], frame)
	}
	s.mu.Unlock()

	for _, c := range targets {
		_ = c.Write(ctx, websocket.MessageText, frame)
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	for _, subs := range s.subs {
		delete(subs, conn)
	}
}

// Handler answers one session request. A non-nil RPCError is sent back as
// the error object of the response.
type Handler func(method string, params json.RawMessage) (any, *walletconnect.RPCError)

// Wallet is a scripted wallet that joins a pairing and answers requests.
type Wallet struct {
	// Account is shared on approval, namespaced under Chain.
	Account string
	Chain   string
	// Decline makes the wallet reject the pairing.
	Decline bool
	Handle  Handler

	mu       sync.Mutex
	conn     *websocket.Conn
	session  string
	proposer walletconnect.Metadata
	requests []string
	paired   chan struct{}
}

// ErrNoSession is returned by calls that need an approved session.
var ErrNoSession = errors.New("relaytest: wallet has no session")

// Pair joins the pairing in uri and answers its proposal in the background.
// It returns once subscribed, so it can be called from a pairing handler.
func (w *Wallet) Pair(ctx context.Context, uri string) error {
	topic, relayURL, err := walletconnect.ParsePairingURI(uri)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, relayURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	previous := w.conn
	w.conn = conn
	w.paired = make(chan struct{})
	w.mu.Unlock()
	if previous != nil {
		_ = previous.Close(websocket.StatusNormalClosure, "paired again")
	}

	if err := w.write(ctx, walletconnect.Envelope{Type: walletconnect.EnvelopeSubscribe, Topic: topic}); err != nil {
		return err
	}
	go w.serve(conn)
	return nil
}

// Paired is closed once the wallet answered the proposal.
func (w *Wallet) Paired() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paired
}

// Proposer returns the dApp metadata of the last proposal received.
func (w *Wallet) Proposer() walletconnect.Metadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.proposer
}

// Requests returns the session request methods received so far.
func (w *Wallet) Requests() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.requests...)
}

// SwitchAccount announces a new selected account to the dApp.
func (w *Wallet) SwitchAccount(ctx context.Context, account string) error {
	w.mu.Lock()
	w.Account = account
	w.mu.Unlock()
	return w.notify(ctx, walletconnect.MethodSessionUpdate, walletconnect.SessionUpdate{Namespaces: w.namespaces()})
}

// RemoveAccounts announces a session update that shares no account.
func (w *Wallet) RemoveAccounts(ctx context.Context) error {
	ns := w.namespaces()
	for name, n := range ns {
		n.Accounts = nil
		ns[name] = n
	}
	return w.notify(ctx, walletconnect.MethodSessionUpdate, walletconnect.SessionUpdate{Namespaces: ns})
}

// DeleteSession ends the session from the wallet side.
func (w *Wallet) DeleteSession(ctx context.Context) error {
	return w.notify(ctx, walletconnect.MethodSessionDelete, walletconnect.RPCError{Code: 6000, Message: "wallet disconnected"})
}

func (w *Wallet) Close() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (w *Wallet) namespaces() map[string]walletconnect.Namespace {
	w.mu.Lock()
	account := w.Account
	w.mu.Unlock()
	network := strings.TrimPrefix(w.Chain, "ccd:")
	return map[string]walletconnect.Namespace{
		"ccd": {
			Chains:   []string{w.Chain},
			Accounts: []string{"ccd:" + network + ":" + account},
			Events:   []string{"accounts_changed"},
		},
	}
}

func (w *Wallet) serve(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env walletconnect.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != walletconnect.EnvelopeMessage {
			continue
		}
		var msg walletconnect.Message
		if err := json.Unmarshal(env.Message, &msg); err != nil || msg.Method == "" {
			continue
		}

		switch msg.Method {
		case walletconnect.MethodSessionPropose:
			w.answerProposal(ctx, env.Topic, msg)
		case walletconnect.MethodSessionRequest:
			w.answerRequest(ctx, env.Topic, msg)
		}
	}
}

func (w *Wallet) answerProposal(ctx context.Context, topic string, msg walletconnect.Message) {
	w.mu.Lock()
	paired := w.paired
	w.mu.Unlock()
	defer close(paired)

	var proposal walletconnect.Proposal
	if err := json.Unmarshal(msg.Params, &proposal); err == nil {
		w.mu.Lock()
		w.proposer = proposal.Proposer
		w.mu.Unlock()
	}

	if w.Decline {
		_ = w.reply(ctx, topic, msg.ID, nil, &walletconnect.RPCError{Code: walletconnect.CodeUserRejected, Message: "User rejected."})
		return
	}

	session := walletconnect.NewTopic()
	_ = w.write(ctx, walletconnect.Envelope{Type: walletconnect.EnvelopeSubscribe, Topic: session})
	w.mu.Lock()
	w.session = session
	w.mu.Unlock()

	_ = w.reply(ctx, topic, msg.ID, walletconnect.Approval{Topic: session, Namespaces: w.namespaces()}, nil)
}

func (w *Wallet) answerRequest(ctx context.Context, topic string, msg walletconnect.Message) {
	var req walletconnect.SessionRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil {
		_ = w.reply(ctx, topic, msg.ID, nil, &walletconnect.RPCError{Code: -32602, Message: err.Error()})
		return
	}
	w.mu.Lock()
	w.requests = append(w.requests, req.Request.Method)
	w.mu.Unlock()

	if w.Handle == nil {
		_ = w.reply(ctx, topic, msg.ID, nil, &walletconnect.RPCError{Code: -32601, Message: "unsupported method"})
		return
	}
	result, rpcErr := w.Handle(req.Request.Method, req.Request.Params)
	_ = w.reply(ctx, topic, msg.ID, result, rpcErr)
}

func (w *Wallet) reply(ctx context.Context, topic string, id uint64, result any, rpcErr *walletconnect.RPCError) error {
	resp := walletconnect.Message{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resp.Result = encoded
	}
	return w.publish(ctx, topic, resp)
}

func (w *Wallet) notify(ctx context.Context, method string, params any) error {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session == "" {
		return ErrNoSession
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return w.publish(ctx, session, walletconnect.Message{JSONRPC: "2.0", ID: 1, Method: method, Params: encoded})
}

func (w *Wallet) publish(ctx context.Context, topic string, msg walletconnect.Message) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.write(ctx, walletconnect.Envelope{Type: walletconnect.EnvelopePublish, Topic: topic, Message: encoded})
}

func (w *Wallet) write(ctx context.Context, env walletconnect.Envelope) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrNoSession
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
