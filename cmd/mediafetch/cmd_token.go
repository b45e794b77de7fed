package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmusicplayer/mediafetch/internal/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the submission API",
	Long: `Issue a bearer token signed with JWT_SECRET. Tokens are only checked
when AUTH_REQUIRED is set, and JWT_SECRET must be the same for serve.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("JWT_SECRET") == "" {
			return errors.New("JWT_SECRET must be set to issue tokens")
		}
		token, err := auth.NewService(cfg.JWTSecret).IssueToken(tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "Client name recorded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenExpiry, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
