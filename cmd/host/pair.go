package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cbnote/cbnote/internal/config"
	"github.com/cbnote/cbnote/internal/transport"
)

func newPairCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "pair <companion>",
		Short: "Issue a pairing token for a companion",
		Long: `Prints a token the companion passes as PAIRING_TOKEN. The token is signed
with PAIRING_SECRET; rotating the secret revokes every token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadHost()
			if err != nil {
				return err
			}
			token, err := transport.NewPairing(cfg.PairingSecret).IssueToken(args[0], ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (0 never expires)")
	return cmd
}
