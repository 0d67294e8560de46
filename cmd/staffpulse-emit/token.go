package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pscheid92/staffpulse/internal/adapter/websocket"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		secret string
		userID string
		orgID  string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a client token",
		Long: `Sign an HS256 token accepted by the authenticate frame when AUTH_REQUIRED is set.
The secret defaults to JWT_SECRET.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			if userID == "" {
				return errors.New("--user is required")
			}

			token, err := websocket.NewTokenVerifier(secret).Sign(userID, orgID, role, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Shared HS256 secret")
	f.StringVar(&userID, "user", "", "User ID the token is issued for")
	f.StringVar(&orgID, "org", "", "Organization claim; empty matches any organization")
	f.StringVar(&role, "role", "", "Role claim")
	f.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
