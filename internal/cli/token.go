package cli

import (
	"fmt"

	"github.com/ikkim/cartsync/config"
	"github.com/ikkim/cartsync/pkg/util"
	"github.com/spf13/cobra"
)

// NewTokenCommand signs an access token for local testing against the JWT
// verifier. It only needs JWT_SECRET.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a test access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return wrapExitError(ExitCommandError, "failed to load config", err)
			}
			return printToken(cmd, opts, cfg.JWT, args[0], email)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	return cmd
}

func printToken(cmd *cobra.Command, opts *RootOptions, jwtCfg config.JWTConfig, userID, email string) error {
	pair, err := util.GenerateTokenPair(userID, email, jwtCfg.Secret, jwtCfg.AccessTokenExpiry, jwtCfg.RefreshTokenExpiry)
	if err != nil {
		return wrapExitError(ExitCommandError, "failed to sign token", err)
	}
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), pair)
	}
	fmt.Fprintln(cmd.OutOrStdout(), pair.AccessToken)
	return nil
}
