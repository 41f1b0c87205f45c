package explorecmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"web3id/internal/statement"
	"web3id/internal/verification/handler"
	"web3id/internal/wallet"
	"web3id/pkg/domain"
)

type envFunc func() (*slog.Logger, domain.Network, error)

// ErrNotAccepted is returned when the verifier did not accept the proof.
var ErrNotAccepted = errors.New("presentation not accepted")

func loadRequest(path string) (statement.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return statement.Request{}, fmt.Errorf("read statements: %w", err)
	}
	statements, err := statement.UnmarshalCredentialStatements(data)
	if err != nil {
		return statement.Request{}, err
	}
	challenge, err := statement.NewChallenge()
	if err != nil {
		return statement.Request{}, err
	}
	req := statement.Request{Challenge: challenge, CredentialStatements: statements}
	return req, req.Validate()
}

func newRequestCmd(out io.Writer) *cobra.Command {
	var statementsPath string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Print the wallet request for a statements file under a fresh challenge",
		RunE: func(*cobra.Command, []string) error {
			req, err := loadRequest(statementsPath)
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(req, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, string(encoded))
			return err
		},
	}
	cmd.Flags().StringVar(&statementsPath, "statements", "", "JSON file holding the credential statements")
	_ = cmd.MarkFlagRequired("statements")
	return cmd
}

func newProveCmd(o *options, out io.Writer, env envFunc, factory ProviderFactory) *cobra.Command {
	var (
		statementsPath string
		verifierURL    string
		outputPath     string
	)
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Request a proof from the wallet and submit it to a verifier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, network, err := env()
			if err != nil {
				return err
			}
			req, err := loadRequest(statementsPath)
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

			presentation, err := prove(ctx, provider, network, req, out)
			if err != nil {
				return err
			}
			if outputPath != "" {
				if err := os.WriteFile(outputPath, presentation, 0o600); err != nil {
					return fmt.Errorf("write presentation: %w", err)
				}
			}
			if verifierURL == "" {
				_, err := fmt.Fprintln(out, string(presentation))
				return err
			}

			resp, err := submit(ctx, http.DefaultClient, verifierURL, req.Challenge, presentation)
			if err != nil {
				return err
			}
			printVerdict(out, resp)
			if !resp.Accepted {
				return fmt.Errorf("%w: %s", ErrNotAccepted, resp.Verdict)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&statementsPath, "statements", "", "JSON file holding the credential statements")
	cmd.Flags().StringVar(&verifierURL, "verifier", "", "Verifier base URL; the presentation is printed when unset")
	cmd.Flags().StringVar(&outputPath, "output", "", "Also write the presentation to this file")
	_ = cmd.MarkFlagRequired("statements")
	return cmd
}

func prove(ctx context.Context, provider wallet.Provider, network domain.Network, req statement.Request, out io.Writer) (json.RawMessage, error) {
	session, err := wallet.NewSessionFromRequest(provider, req)
	if err != nil {
		return nil, err
	}
	accounts, err := provider.Connect(ctx, wallet.DefaultCapabilities(network))
	if err != nil {
		return nil, err
	}
	if len(accounts) > 0 {
		fmt.Fprintf(out, "Connected to %s\n", accounts[0])
	}
	fmt.Fprintf(out, "Requesting proof for challenge %s\n", session.Challenge())
	return session.Prove(ctx)
}

// submit posts the presentation bound to its challenge and decodes the verdict.
func submit(ctx context.Context, client *http.Client, verifierURL, challenge string, presentation []byte) (*handler.Response, error) {
	endpoint := strings.TrimRight(verifierURL, "/") + "/v0/verify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(presentation))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handler.ExpectedChallengeHeader, challenge)

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit presentation: %w", err)
	}
	defer res.Body.Close()

	var resp handler.Response
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("verifier answered %d with an undecodable body: %w", res.StatusCode, err)
	}
	if resp.Verdict == "" {
		return nil, fmt.Errorf("verifier answered %d: %s %s", res.StatusCode, resp.Error, resp.ErrorDescription)
	}
	return &resp, nil
}

func printVerdict(out io.Writer, resp *handler.Response) {
	fmt.Fprintf(out, "Verdict: %s\n", resp.Verdict)
	if resp.BlockHash != "" {
		fmt.Fprintf(out, "Checked at block %s", resp.BlockHash)
		if resp.BlockTime != nil {
			fmt.Fprintf(out, " (%s)", resp.BlockTime.Format("2006-01-02 15:04:05 MST"))
		}
		fmt.Fprintln(out)
	}
	for _, r := range resp.Reasons {
		if r.Credential != nil {
			fmt.Fprintf(out, "  %s/%s credential %d: %s\n", r.Stage, r.Code, *r.Credential, r.Message)
			continue
		}
		fmt.Fprintf(out, "  %s/%s: %s\n", r.Stage, r.Code, r.Message)
	}
	if resp.Receipt != "" {
		fmt.Fprintf(out, "Receipt: %s\n", resp.Receipt)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
