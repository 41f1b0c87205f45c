// Package startcmd implements "verifier start". Every flag can also be set
// through a WEB3ID_VERIFIER_ environment variable; the flag wins.
package startcmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"web3id/internal/ledger"
	"web3id/internal/platform/config"
	"web3id/internal/platform/health"
	"web3id/internal/platform/httpserver"
	"web3id/internal/platform/logger"
	"web3id/internal/platform/metrics"
	redisclient "web3id/internal/platform/redis"
	"web3id/internal/receipt"
	"web3id/internal/replay"
	httptransport "web3id/internal/transport/http"
	"web3id/internal/verification"
	verificationHandler "web3id/internal/verification/handler"
	"web3id/pkg/domain"
	"web3id/pkg/platform/circuit"
	"web3id/pkg/platform/middleware/request"
	"web3id/pkg/platform/tracer"
)

const (
	endpointFlagName  = "endpoint"
	endpointEnvKey    = config.EnvPrefix + "ENDPOINT"
	endpointFlagUsage = "gRPC-gateway endpoint of the ledger node (http or https)." +
		" Alternatively, this can be set with the following environment variable: " + endpointEnvKey

	listenAddressFlagName  = "listen-address"
	listenAddressEnvKey    = config.EnvPrefix + "LISTEN_ADDRESS"
	listenAddressFlagUsage = "Address the verifier listens on, host:port." +
		" Alternatively, this can be set with the following environment variable: " + listenAddressEnvKey

	logLevelFlagName  = "log-level"
	logLevelEnvKey    = config.EnvPrefix + "LOG_LEVEL"
	logLevelFlagUsage = "Log level: trace, debug, info, warn, error or fatal." +
		" Alternatively, this can be set with the following environment variable: " + logLevelEnvKey

	logHeadersFlagName  = "log-headers"
	logHeadersEnvKey    = config.EnvPrefix + "LOG_HEADERS"
	logHeadersFlagUsage = "Log request and response headers (true or false)." +
		" Alternatively, this can be set with the following environment variable: " + logHeadersEnvKey

	requestTimeoutFlagName  = "request-timeout"
	requestTimeoutEnvKey    = config.EnvPrefix + "REQUEST_TIMEOUT"
	requestTimeoutFlagUsage = "Request and node query timeout in milliseconds." +
		" Alternatively, this can be set with the following environment variable: " + requestTimeoutEnvKey

	networkFlagName  = "network"
	networkEnvKey    = config.EnvPrefix + "NETWORK"
	networkFlagUsage = "Network the node belongs to: mainnet or testnet." +
		" Alternatively, this can be set with the following environment variable: " + networkEnvKey

	prometheusAddressFlagName  = "prometheus-address"
	prometheusAddressEnvKey    = config.EnvPrefix + "PROMETHEUS_ADDRESS"
	prometheusAddressFlagUsage = "Address to serve Prometheus metrics on. Metrics are off when unset." +
		" Alternatively, this can be set with the following environment variable: " + prometheusAddressEnvKey

	replayStoreFlagName  = "replay-store"
	replayStoreEnvKey    = config.EnvPrefix + "REPLAY_STORE"
	replayStoreFlagUsage = "Challenge replay guard: none, memory or a redis:// URL." +
		" Alternatively, this can be set with the following environment variable: " + replayStoreEnvKey

	replayTTLFlagName  = "replay-ttl"
	replayTTLEnvKey    = config.EnvPrefix + "REPLAY_TTL"
	replayTTLFlagUsage = "How long a consumed challenge is remembered, for example 10m." +
		" Alternatively, this can be set with the following environment variable: " + replayTTLEnvKey

	receiptKeyFlagName  = "receipt-key"
	receiptKeyEnvKey    = config.EnvPrefix + "RECEIPT_KEY"
	receiptKeyFlagUsage = "Secret of at least 32 bytes used to sign receipts for accepted presentations." +
		" Receipts are off when unset." +
		" Alternatively, this can be set with the following environment variable: " + receiptKeyEnvKey

	receiptTTLFlagName  = "receipt-ttl"
	receiptTTLEnvKey    = config.EnvPrefix + "RECEIPT_TTL"
	receiptTTLFlagUsage = "Lifetime of a signed receipt, for example 15m." +
		" Alternatively, this can be set with the following environment variable: " + receiptTTLEnvKey
)

const (
	breakerFailureThreshold = 5
	breakerCooldown         = 10 * time.Second
	redisStatsInterval      = 30 * time.Second
)

type server interface {
	Run(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error
}

// HTTPServer serves until SIGINT or SIGTERM, then shuts down gracefully.
type HTTPServer struct{}

func (HTTPServer) Run(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return httpserver.Run(ctx, logger, servers...)
}

// Cmd returns the cobra start command.
func Cmd(srv server) (*cobra.Command, error) {
	startCmd := createStartCmd(srv)
	createFlags(startCmd)
	return startCmd, nil
}

func createStartCmd(srv server) *cobra.Command {
	return &cobra.Command{
		Use:          "start",
		Short:        "Start the verifier",
		Long:         "Start the Web3 ID verifier, which checks presentations against a ledger node.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			return startVerifier(cmd.Context(), cfg, srv)
		},
	}
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(endpointFlagName, "", "", endpointFlagUsage)
	startCmd.Flags().StringP(listenAddressFlagName, "", "", listenAddressFlagUsage)
	startCmd.Flags().StringP(logLevelFlagName, "", "", logLevelFlagUsage)
	startCmd.Flags().StringP(logHeadersFlagName, "", "", logHeadersFlagUsage)
	startCmd.Flags().StringP(requestTimeoutFlagName, "", "", requestTimeoutFlagUsage)
	startCmd.Flags().StringP(networkFlagName, "", "", networkFlagUsage)
	startCmd.Flags().StringP(prometheusAddressFlagName, "", "", prometheusAddressFlagUsage)
	startCmd.Flags().StringP(replayStoreFlagName, "", "", replayStoreFlagUsage)
	startCmd.Flags().StringP(replayTTLFlagName, "", "", replayTTLFlagUsage)
	startCmd.Flags().StringP(receiptKeyFlagName, "", "", receiptKeyFlagUsage)
	startCmd.Flags().StringP(receiptTTLFlagName, "", "", receiptTTLFlagUsage)
}

// getConfig resolves every setting from its flag, then its environment
// variable, then the default.
func getConfig(cmd *cobra.Command) (config.Server, error) {
	cfg := config.Default()

	if v, err := getUserSetVar(cmd, endpointFlagName, endpointEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		if cfg.Endpoint, err = config.ParseEndpoint(v); err != nil {
			return cfg, err
		}
	}

	if v, err := getUserSetVar(cmd, listenAddressFlagName, listenAddressEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		if cfg.ListenAddress, err = config.ParseListenAddress(v); err != nil {
			return cfg, err
		}
	}

	if v, err := getUserSetVar(cmd, logLevelFlagName, logLevelEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		if cfg.LogLevel, err = config.ParseLogLevel(v); err != nil {
			return cfg, err
		}
	}

	if v, err := getUserSetVar(cmd, logHeadersFlagName, logHeadersEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		if cfg.LogHeaders, err = config.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("%s: %w", logHeadersFlagName, err)
		}
	}

	if v, err := getUserSetVar(cmd, requestTimeoutFlagName, requestTimeoutEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		if cfg.RequestTimeout, err = config.ParseRequestTimeout(v); err != nil {
			return cfg, err
		}
	}

	if v, err := getUserSetVar(cmd, networkFlagName, networkEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		if cfg.Network, err = domain.ParseNetwork(v); err != nil {
			return cfg, err
		}
	}

	if v, err := getUserSetVar(cmd, prometheusAddressFlagName, prometheusAddressEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		if cfg.PrometheusAddress, err = config.ParseListenAddress(v); err != nil {
			return cfg, fmt.Errorf("%s: %w", prometheusAddressFlagName, err)
		}
	}

	if v, err := getUserSetVar(cmd, replayStoreFlagName, replayStoreEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		if cfg.Replay.Kind, cfg.Replay.URL, err = config.ParseReplayStore(v); err != nil {
			return cfg, err
		}
	}

	if v, err := getUserSetVar(cmd, replayTTLFlagName, replayTTLEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		if cfg.Replay.TTL, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("invalid replay ttl %q: %w", v, err)
		}
	}

	if v, err := getUserSetVar(cmd, receiptKeyFlagName, receiptKeyEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		cfg.Receipt.Key = v
	}

	if v, err := getUserSetVar(cmd, receiptTTLFlagName, receiptTTLEnvKey); err != nil {
		return cfg, err
	} else if v != "" {
		if cfg.Receipt.TTL, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("invalid receipt ttl %q: %w", v, err)
		}
	}

	return cfg, cfg.Validate()
}

func getUserSetVar(cmd *cobra.Command, flagName, envKey string) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf("%s flag not found: %w", flagName, err)
		}
		if strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("%s flag must not be empty", flagName)
		}
		return value, nil
	}

	value, _ := os.LookupEnv(envKey)
	return value, nil
}

func startVerifier(ctx context.Context, cfg config.Server, srv server) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	log.InfoContext(ctx, "starting web3id verifier",
		"endpoint", cfg.Endpoint.String(),
		"listen_address", cfg.ListenAddress,
		"network", cfg.Network,
		"request_timeout", cfg.RequestTimeout,
		"replay_store", cfg.Replay.Kind,
		"receipts", cfg.Receipt.Key != "",
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	t := tracer.NewOTel()

	breaker := circuit.New("ledger",
		circuit.WithFailureThreshold(breakerFailureThreshold),
		circuit.WithCooldown(breakerCooldown),
		circuit.WithStateChange(func(name string, from, to circuit.State) {
			m.SetCircuitState(name, int(to))
			log.Warn("ledger circuit state changed", "from", from.String(), "to", to.String())
		}),
	)
	node := ledger.NewClient(cfg.Endpoint, cfg.RequestTimeout,
		ledger.WithMetrics(m),
		ledger.WithTracer(t),
		ledger.WithBreaker(breaker),
	)

	healthHandler := health.New(string(cfg.Network), cfg.RequestTimeout)
	healthHandler.RegisterCheck("ledger", node.Ping)

	opts := []verification.Option{
		verification.WithMetrics(m),
		verification.WithTracer(t),
		verification.WithLogger(log),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, closeStore, err := newReplayStore(runCtx, cfg.Replay, reg, healthHandler)
	if err != nil {
		return err
	}
	defer closeStore()
	if store != nil {
		opts = append(opts, verification.WithReplayStore(store, cfg.Replay.TTL))
	}

	var handlerOpts []verificationHandler.Option
	if cfg.Receipt.Key != "" {
		receipts, err := receipt.New(cfg.Receipt.Key, cfg.Receipt.TTL)
		if err != nil {
			return err
		}
		handlerOpts = append(handlerOpts, verificationHandler.WithReceipts(receipts))
	}

	svc := verification.New(node, node, cfg.Network, opts...)
	router := httptransport.NewRouter(httptransport.Config{
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   config.MaxBodyBytes,
		LogHeaders:     cfg.LogHeaders,
		Metrics:        request.NewMetrics(reg),
	}, log, healthHandler, verificationHandler.New(svc, log, handlerOpts...))

	servers := []*http.Server{httpserver.New(cfg.ListenAddress, router, cfg.RequestTimeout)}
	if cfg.PrometheusAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		servers = append(servers, httpserver.New(cfg.PrometheusAddress, mux, cfg.RequestTimeout))
	}

	if err := srv.Run(runCtx, log, servers...); err != nil {
		return fmt.Errorf("verifier on %s: %w", cfg.ListenAddress, err)
	}
	log.InfoContext(ctx, "verifier stopped")
	return nil
}

// newReplayStore builds the configured replay guard. A nil store disables it.
func newReplayStore(ctx context.Context, cfg config.Replay, reg prometheus.Registerer, h *health.Handler) (replay.Store, func(), error) {
	switch cfg.Kind {
	case config.ReplayMemory:
		return replay.NewMemory(0), func() {}, nil
	case config.ReplayRedis:
		client, err := redisclient.New(ctx, redisclient.DefaultConfig(cfg.URL), reg)
		if err != nil {
			return nil, nil, fmt.Errorf("replay store: %w", err)
		}
		h.RegisterCheck("redis", client.Health)
		go client.RunPoolStats(ctx, redisStatsInterval)
		return replay.NewRedis(client), func() { _ = client.Close() }, nil
	case config.ReplayNone, "":
		return nil, func() {}, nil
	default:
		return nil, nil, errors.New("unknown replay store " + string(cfg.Kind))
	}
}
