package startcmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web3id/internal/platform/config"
	"web3id/pkg/domain"
)

type mockServer struct {
	servers []*http.Server
	err     error
}

func (s *mockServer) Run(_ context.Context, _ *slog.Logger, servers ...*http.Server) error {
	s.servers = servers
	return s.err
}

func newStartCmd(t *testing.T, srv server, args ...string) *cobra.Command {
	t.Helper()
	cmd, err := Cmd(srv)
	require.NoError(t, err)
	cmd.SetArgs(args)
	return cmd
}

func TestStartCmdContents(t *testing.T) {
	cmd := newStartCmd(t, &mockServer{})

	assert.Equal(t, "start", cmd.Use)
	assert.Equal(t, "Start the verifier", cmd.Short)
	for _, name := range []string{
		endpointFlagName, listenAddressFlagName, logLevelFlagName, logHeadersFlagName,
		requestTimeoutFlagName, networkFlagName, prometheusAddressFlagName,
		replayStoreFlagName, replayTTLFlagName, receiptKeyFlagName, receiptTTLFlagName,
	} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestGetConfig_Defaults(t *testing.T) {
	cmd := newStartCmd(t, &mockServer{})
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := getConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultEndpoint, cfg.Endpoint.String())
	assert.Equal(t, config.DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.LogHeaders)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, domain.NetworkTestnet, cfg.Network)
	assert.Empty(t, cfg.PrometheusAddress)
	assert.Equal(t, config.ReplayNone, cfg.Replay.Kind)
	assert.Empty(t, cfg.Receipt.Key)
	assert.Equal(t, config.DefaultReceiptTTL, cfg.Receipt.TTL)
}

func TestGetConfig_FlagsAndEnv(t *testing.T) {
	t.Setenv(endpointEnvKey, "https://node.example:20000")
	t.Setenv(networkEnvKey, "testnet")
	t.Setenv(replayStoreEnvKey, "memory")
	t.Setenv(receiptKeyEnvKey, "0123456789abcdef0123456789abcdef")

	cmd := newStartCmd(t, &mockServer{})
	require.NoError(t, cmd.ParseFlags([]string{
		"--" + networkFlagName, "mainnet",
		"--" + requestTimeoutFlagName, "250",
		"--" + logLevelFlagName, "trace",
		"--" + logHeadersFlagName, "true",
		"--" + listenAddressFlagName, "127.0.0.1:9090",
		"--" + replayTTLFlagName, "90s",
	}))

	cfg, err := getConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "https://node.example:20000", cfg.Endpoint.String(), "env applies when the flag is unset")
	assert.Equal(t, domain.NetworkMainnet, cfg.Network, "flag wins over env")
	assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, slog.Level(-8), cfg.LogLevel)
	assert.True(t, cfg.LogHeaders)
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddress)
	assert.Equal(t, config.ReplayMemory, cfg.Replay.Kind)
	assert.Equal(t, 90*time.Second, cfg.Replay.TTL)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Receipt.Key)
}

func TestGetConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"endpoint scheme", []string{"--endpoint", "ftp://node"}, "expected http or https"},
		{"network", []string{"--network", "devnet"}, "devnet"},
		{"log level", []string{"--log-level", "verbose"}, "invalid log level"},
		{"log headers", []string{"--log-headers", "yes"}, "invalid boolean"},
		{"timeout", []string{"--request-timeout", "0"}, "invalid request timeout"},
		{"listen address", []string{"--listen-address", "nowhere"}, "invalid listen address"},
		{"replay store", []string{"--replay-store", "memcached"}, "invalid replay store"},
		{"replay ttl", []string{"--replay-store", "memory", "--replay-ttl", "soon"}, "invalid replay ttl"},
		{"receipt key", []string{"--receipt-key", "short"}, "receipt key must be at least 32 bytes"},
		{"receipt ttl", []string{"--receipt-ttl", "later"}, "invalid receipt ttl"},
		{"empty network", []string{"--network="}, "network flag must not be empty"},
		{"blank endpoint", []string{"--endpoint", " "}, "endpoint flag must not be empty"},
		{"empty receipt key", []string{"--receipt-key="}, "receipt-key flag must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newStartCmd(t, &mockServer{})
			require.NoError(t, cmd.ParseFlags(tt.args))

			_, err := getConfig(cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStartVerifier(t *testing.T) {
	node := httptest.NewServer(http.NotFoundHandler())
	node.Close()

	srv := &mockServer{}
	cmd := newStartCmd(t, srv,
		"--endpoint", node.URL,
		"--listen-address", "127.0.0.1:0",
		"--prometheus-address", "127.0.0.1:0",
		"--replay-store", "memory",
		"--receipt-key", "0123456789abcdef0123456789abcdef",
		"--log-level", "error",
	)
	require.NoError(t, cmd.Execute())
	require.Len(t, srv.servers, 2)

	api := srv.servers[0].Handler

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "node is unreachable")

	rec = httptest.NewRecorder()
	srv.servers[1].Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStartVerifier_ServerError(t *testing.T) {
	srv := &mockServer{err: errors.New("address in use")}
	cmd := newStartCmd(t, srv, "--log-level", "error")

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.Len(t, srv.servers, 1, "metrics server is off by default")
}

func TestStartVerifier_RedisUnreachable(t *testing.T) {
	cmd := newStartCmd(t, &mockServer{}, "--replay-store", "redis://127.0.0.1:1", "--log-level", "error")

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay store")
}
