package main

import (
	"encoding/json"

	"github.com/smallbiznis/vetclinic/internal/tenant"
	tenantdomain "github.com/smallbiznis/vetclinic/internal/tenant/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage clinics",
	}
	cmd.AddCommand(tenantCreateCmd())
	return cmd
}

func tenantCreateCmd() *cobra.Command {
	var req tenantdomain.CreateTenantRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a clinic and its primary admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc tenantdomain.Service
			stop, err := startApp(cmd.Context(), []fx.Option{infrastructure(), tenant.Module}, &svc)
			if err != nil {
				return err
			}
			defer stop()

			created, err := svc.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(created)
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "clinic display name")
	cmd.Flags().StringVar(&req.Slug, "slug", "", "tenant id; derived from the name when empty")
	cmd.Flags().StringVar(&req.AdminUserID, "admin-user", "", "user id of the primary admin")
	cmd.Flags().StringVar(&req.AdminEmail, "admin-email", "", "email that receives payment receipts")
	cmd.Flags().StringVar(&req.Plan, "plan", "", "subscription plan")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("admin-user")
	return cmd
}
