// Command proof-explorer asks a wallet for Web3 ID proofs and checks them
// with a verifier.
package main

import (
	"os"

	"web3id/cmd/proof-explorer/explorecmd"
)

func main() {
	if err := explorecmd.NewRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
