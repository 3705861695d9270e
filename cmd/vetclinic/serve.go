package main

import (
	"github.com/smallbiznis/vetclinic/internal/migration"
	"github.com/smallbiznis/vetclinic/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the billing HTTP API and the Stripe webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{infrastructure()}
			if !skipMigrations {
				opts = append(opts, migration.Module)
			}
			opts = append(opts, domains(), server.Module, fx.StopTimeout(stopTimeout))

			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	return cmd
}
