// Command verifier serves POST /v0/verify, checking Web3 ID presentations
// against a ledger node.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"web3id/cmd/verifier/startcmd"
	"web3id/internal/platform/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "verifier",
		Short: "Web3 ID presentation verifier",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	log := logger.New(slog.LevelInfo)

	startCmd, err := startcmd.Cmd(startcmd.HTTPServer{})
	if err != nil {
		log.Error("failed to build start command", "error", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(startCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error("verifier stopped", "error", err)
		os.Exit(1)
	}
}
