// Package cli is the command-line entry point: serve the API, apply the
// schema and bootstrap accounts.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"ticketbackend/internal/config"
	"ticketbackend/internal/utils"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	LogLevel   string
	TextLogs   bool
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ticketbackend",
		Short: "Ticket marketplace booking and payment backend",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			utils.ConfigureLogger(os.Stdout, opts.LogLevel, opts.TextLogs)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file (defaults to $CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.TextLogs, "text-logs", false, "human readable logs instead of JSON")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCreateUserCommand(opts))

	return cmd
}

// loadConfig reads and validates configuration for a command.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	conn, err := config.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return conn, nil
}
