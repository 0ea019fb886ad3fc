package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convoflow/convoflow/pkg/auth"
	"github.com/convoflow/convoflow/pkg/config"
	"github.com/convoflow/convoflow/pkg/flow"
)

// validateCmd compiles a flow definition file and reports problems
// without touching a server.
func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <flow.yaml>",
		Short: "Validate a flow definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			compiled, err := flow.Load("validate", source)
			if err != nil {
				return fmt.Errorf("invalid flow: %w", err)
			}
			fmt.Printf("OK: %s (%d nodes)\n", compiled.Name, len(compiled.Nodes))
			return nil
		},
	}
}

// tokenCmd issues a bearer token for local development.
func tokenCmd() *cobra.Command {
	var tenantID, accountID string
	var hours int

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("no JWT secret configured")
			}
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}

			svc := auth.NewJWTService(cfg.Auth.JWTSecret, hours)
			token, err := svc.GenerateToken(tenantID, accountID)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&accountID, "account", "dev", "Account id")
	cmd.Flags().IntVar(&hours, "hours", 24, "Token lifetime in hours")
	return cmd
}
