// Package explorecmd implements the proof-explorer commands.
package explorecmd

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"web3id/internal/platform/logger"
	"web3id/internal/wallet"
	"web3id/internal/wallet/extension"
	"web3id/internal/wallet/walletconnect"
	"web3id/pkg/domain"
)

const (
	transportExtension     = "extension"
	transportWalletConnect = "walletconnect"

	qrImageSize = 256
)

type options struct {
	transport         string
	extensionEndpoint string
	relayURL          string
	network           string
	qrFile            string
	timeout           time.Duration
	logLevel          string
}

// ProviderFactory opens the wallet transport selected by the flags.
type ProviderFactory func(o *options, out io.Writer, log *slog.Logger) (wallet.Provider, error)

// NewRootCmd builds the proof-explorer command tree writing results to out
// and logs to errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	return newRootCmd(out, errOut, newProvider)
}

func newRootCmd(out, errOut io.Writer, factory ProviderFactory) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:          "proof-explorer",
		Short:        "Request Web3 ID proofs from a wallet",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&o.transport, "transport", transportExtension, "Wallet transport: extension or walletconnect")
	flags.StringVar(&o.extensionEndpoint, "extension-endpoint", extension.DefaultEndpoint, "RPC endpoint of the browser wallet agent")
	flags.StringVar(&o.relayURL, "relay-url", walletconnect.DefaultRelayURL, "WalletConnect relay")
	flags.StringVar(&o.network, "network", string(domain.NetworkTestnet), "Network: mainnet or testnet")
	flags.StringVar(&o.qrFile, "qr-file", "", "Also write the pairing QR code as a PNG to this path")
	flags.DurationVar(&o.timeout, "timeout", 5*time.Minute, "Overall time allowed for the wallet to answer")
	flags.StringVar(&o.logLevel, "log-level", "warn", "Log level: trace, debug, info, warn, error or fatal")

	env := func() (*slog.Logger, domain.Network, error) {
		level, err := logger.ParseLevel(o.logLevel)
		if err != nil {
			return nil, "", err
		}
		network, err := domain.ParseNetwork(o.network)
		if err != nil {
			return nil, "", err
		}
		return logger.NewWithWriter(errOut, level), network, nil
	}

	root.AddCommand(
		newRequestCmd(out),
		newProveCmd(o, out, env, factory),
		newAnchorCmd(o, out, env, factory),
	)
	return root
}

func newProvider(o *options, out io.Writer, log *slog.Logger) (wallet.Provider, error) {
	switch o.transport {
	case transportExtension:
		return extension.New(o.extensionEndpoint, extension.WithLogger(log)), nil
	case transportWalletConnect:
		return walletconnect.New(o.relayURL,
			walletconnect.WithLogger(log),
			walletconnect.WithMetadata(walletconnect.Metadata{
				Name:        "proof-explorer",
				Description: "Request and verify Web3 ID presentations",
			}),
			walletconnect.WithPairingHandler(func(uri string) {
				fmt.Fprintln(out, "Scan with your wallet to pair:")
				if err := walletconnect.WriteQR(out, uri); err != nil {
					log.Warn("cannot render pairing code", "error", err)
				}
				fmt.Fprintln(out, uri)
				if o.qrFile == "" {
					return
				}
				if err := walletconnect.WriteQRFile(o.qrFile, uri, qrImageSize); err != nil {
					log.Warn("cannot write pairing code", "path", o.qrFile, "error", err)
				}
			}),
		), nil
	default:
		return nil, fmt.Errorf("unknown transport %q: expected %s or %s", o.transport, transportExtension, transportWalletConnect)
	}
}
