package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/config"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenUsername string
	tokenTTL      time.Duration
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Print a development JWT signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE:  runTokenCmd,
	}
	cmd.Flags().StringVar(&tokenUsername, "username", "", "username claim (creates the user on first connect)")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}

func runTokenCmd(cmd *cobra.Command, args []string) error {
	cfg := config.InitConfig(devMode)
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	userID := args[0]
	username := tokenUsername
	if username == "" {
		username = userID
	}

	token, err := auth.IssueToken(cfg.Auth.JWTSecret, userID, username, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, token)
	if tokenTTL > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "user %s (%s), expires %s\n", userID, username, time.Now().Add(tokenTTL).Format(time.RFC3339))
	}
	return nil
}
