package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateCmd returns the migrate command.
func MigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables, counters and indexes",
		Long: `Apply the schema of the configured database. Safe to run repeatedly:
existing tables and counters are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s schema is up to date\n", green.Sprint("ok"), e.cfg.Database.Driver)
			return nil
		},
	}
}
