package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"web3id/internal/platform/logger"
	"web3id/internal/receipt"
	"web3id/pkg/domain"
)

// EnvPrefix is shared by every environment variable the verifier reads.
const EnvPrefix = "WEB3ID_VERIFIER_"

// Defaults mirror the values the verifier starts with when nothing is set.
const (
	DefaultEndpoint       = "http://localhost:20000"
	DefaultListenAddress  = "0.0.0.0:8080"
	DefaultLogLevel       = "info"
	DefaultRequestTimeout = 5000 * time.Millisecond
	DefaultReplayTTL      = 10 * time.Minute
	DefaultReceiptTTL     = 15 * time.Minute

	// MaxBodyBytes caps presentation uploads at 100kB.
	MaxBodyBytes int64 = 100_000
)

// ReplayKind selects the challenge consumption store.
type ReplayKind string

const (
	ReplayNone   ReplayKind = "none"
	ReplayMemory ReplayKind = "memory"
	ReplayRedis  ReplayKind = "redis"
)

// Replay configures the optional replay guard.
type Replay struct {
	Kind ReplayKind
	URL  string // redis URL when Kind is ReplayRedis
	TTL  time.Duration
}

// Receipt configures signed receipts for accepted presentations.
// An empty Key disables them.
type Receipt struct {
	Key string
	TTL time.Duration
}

// Server captures the verifier's process configuration.
type Server struct {
	Endpoint          *url.URL
	ListenAddress     string
	LogLevel          slog.Level
	LogHeaders        bool
	RequestTimeout    time.Duration
	Network           domain.Network
	PrometheusAddress string
	Replay            Replay
	Receipt           Receipt
}

// Default returns a configuration populated with the documented defaults.
func Default() Server {
	endpoint, _ := url.Parse(DefaultEndpoint)
	return Server{
		Endpoint:       endpoint,
		ListenAddress:  DefaultListenAddress,
		LogLevel:       slog.LevelInfo,
		RequestTimeout: DefaultRequestTimeout,
		Network:        domain.NetworkTestnet,
		Replay:         Replay{Kind: ReplayNone, TTL: DefaultReplayTTL},
		Receipt:        Receipt{TTL: DefaultReceiptTTL},
	}
}

// Validate reports the first inconsistency in an assembled configuration.
func (s Server) Validate() error {
	if s.Endpoint == nil {
		return errors.New("endpoint is required")
	}
	if s.ListenAddress == "" {
		return errors.New("listen address is required")
	}
	if s.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if _, err := domain.ParseNetwork(string(s.Network)); err != nil {
		return err
	}
	if s.Replay.Kind == ReplayRedis && s.Replay.URL == "" {
		return errors.New("redis replay store requires a URL")
	}
	if s.Replay.Kind != ReplayNone && s.Replay.TTL <= 0 {
		return errors.New("replay ttl must be positive")
	}
	if s.Receipt.Key != "" && len(s.Receipt.Key) < receipt.MinKeyLength {
		return fmt.Errorf("receipt key must be at least %d bytes", receipt.MinKeyLength)
	}
	if s.Receipt.Key != "" && s.Receipt.TTL <= 0 {
		return errors.New("receipt ttl must be positive")
	}
	return nil
}

// ParseEndpoint parses the node URL. Only http and https are accepted.
func ParseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: expected http or https scheme", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: missing host", raw)
	}
	return u, nil
}

// ParseListenAddress accepts "host:port" or an http URL carrying one.
func ParseListenAddress(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return "", fmt.Errorf("invalid listen address %q: %w", raw, err)
		}
		addr = u.Host
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", raw, err)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("invalid listen address %q: bad port", raw)
	}
	return net.JoinHostPort(host, port), nil
}

// ParseLogLevel accepts trace|debug|info|warn|error|fatal.
func ParseLogLevel(raw string) (slog.Level, error) {
	return logger.ParseLevel(raw)
}

// ParseBool accepts exactly "true" or "false".
func ParseBool(raw string) (bool, error) {
	switch strings.TrimSpace(raw) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q: expected true or false", raw)
	}
}

// ParseRequestTimeout parses a positive number of milliseconds.
func ParseRequestTimeout(raw string) (time.Duration, error) {
	ms, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil || ms == 0 {
		return 0, fmt.Errorf("invalid request timeout %q: expected a positive number of milliseconds", raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ParseReplayStore accepts "none", "memory" or a redis:// / rediss:// URL.
func ParseReplayStore(raw string) (ReplayKind, string, error) {
	v := strings.TrimSpace(raw)
	switch {
	case v == "" || v == string(ReplayNone):
		return ReplayNone, "", nil
	case v == string(ReplayMemory):
		return ReplayMemory, "", nil
	case strings.HasPrefix(v, "redis://") || strings.HasPrefix(v, "rediss://"):
		return ReplayRedis, v, nil
	default:
		return "", "", fmt.Errorf("invalid replay store %q: expected none, memory or a redis URL", raw)
	}
}
