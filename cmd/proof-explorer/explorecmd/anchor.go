package explorecmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"web3id/internal/ledger"
	"web3id/internal/platform/config"
	"web3id/internal/wallet"
)

func newAnchorCmd(o *options, out io.Writer, env envFunc, factory ProviderFactory) *cobra.Command {
	var (
		data        string
		node        string
		interval    time.Duration
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "anchor",
		Short: "Register data on chain through the wallet and wait until it is final",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, network, err := env()
			if err != nil {
				return err
			}
			if data == "" {
				return errors.New("--data must not be empty")
			}
			endpoint, err := config.ParseEndpoint(node)
			if err != nil {
				return err
			}
			provider, err := factory(o, out, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(commandContext(cmd), o.timeout)
			defer cancel()
			defer func() {
				if err := provider.Disconnect(context.WithoutCancel(ctx)); err != nil {
					log.Debug("disconnect failed", "error", err)
				}
			}()

			if _, err := provider.Connect(ctx, wallet.DefaultCapabilities(network)); err != nil {
				return err
			}
			hash, err := provider.SendRegisterData(ctx, []byte(data))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Submitted transaction %s\n", hash)

			client := ledger.NewClient(endpoint, config.DefaultRequestTimeout)
			status, err := ledger.AwaitFinality(ctx, client, hash, ledger.FinalityOptions{
				Interval:    interval,
				MaxAttempts: maxAttempts,
			})
			if err != nil {
				return err
			}
			if !status.Success {
				return fmt.Errorf("transaction %s finalized in block %s but failed", hash, status.BlockHash)
			}
			fmt.Fprintf(out, "Finalized in block %s\n", status.BlockHash)
			return nil
		},
	}
	defaults := ledger.DefaultFinalityOptions()
	cmd.Flags().StringVar(&data, "data", "", "Data to register")
	cmd.Flags().StringVar(&node, "node", config.DefaultEndpoint, "Ledger node endpoint used to follow the transaction")
	cmd.Flags().DurationVar(&interval, "poll-interval", defaults.Interval, "Delay between status queries")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", defaults.MaxAttempts, "Status queries before giving up")
	return cmd
}
