package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/vetclinic/internal/config"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	"github.com/smallbiznis/vetclinic/internal/server"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		tenantID string
		userID   string
		role     string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.IsProduction() {
				return errors.New("token issuing is disabled in production")
			}
			if cfg.AuthJWTSecret == "" {
				return errors.New("AUTH_JWT_SECRET is not set")
			}
			parsed, err := requestctx.ParseRole(role)
			if err != nil {
				return err
			}

			token, err := server.IssueToken([]byte(cfg.AuthJWTSecret), requestctx.Caller{
				TenantID: tenantID,
				UserID:   userID,
				Role:     parsed,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", string(requestctx.RoleAdmin), "owner, admin or staff")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
