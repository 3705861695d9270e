package main

import (
	"fmt"

	"github.com/smallbiznis/vetclinic/internal/migration"
	"github.com/smallbiznis/vetclinic/pkg/rls"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	var (
		down        int
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
		Long: `Apply every pending migration, including the tenant row level security
policies.

Examples:
  vetclinic migrate
  vetclinic migrate --down 1
  vetclinic migrate --version`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var conn *gorm.DB
			stop, err := startApp(cmd.Context(), []fx.Option{infrastructure()}, &conn)
			if err != nil {
				return err
			}
			defer stop()

			if !rls.Supported(conn) {
				return fmt.Errorf("migrations require postgres, got %s", conn.Dialector.Name())
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}

			switch {
			case showVersion:
				version, dirty, err := migration.Version(sqlDB)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			case down > 0:
				if err := migration.Rollback(sqlDB, down); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", down)
				return nil
			default:
				if err := migration.RunMigrations(sqlDB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			}
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations")
	cmd.Flags().BoolVar(&showVersion, "version", false, "print the applied schema version")
	return cmd
}
