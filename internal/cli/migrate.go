package cli

import (
	"fmt"

	intdb "ticketbackend/internal/db"
	"ticketbackend/internal/utils"

	"github.com/spf13/cobra"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes for the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			conn, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := intdb.Migrate(cmd.Context(), conn, cfg.Database.Driver); err != nil {
				return err
			}
			utils.Log("", "cli").WithField("driver", cfg.Database.Driver).Info("schema applied")
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
