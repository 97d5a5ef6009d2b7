package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/liker0704/telegram-signals-parisng/pkg/infrastructure/persistence"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema",
		Long: `Open the configured store, apply its schema and exit.

The relay applies the schema on start as well; this command lets a
deployment do it ahead of time and check connectivity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store, err := persistence.Open(ctx, persistence.Config{
				Driver: cfg.Store.Driver,
				Path:   cfg.Store.Path,
				URL:    cfg.Store.URL,
			})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			if err := store.Ping(ctx); err != nil {
				return fmt.Errorf("ping store: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "store %s ready\n", cfg.Store.Driver)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "connection and migration timeout")
	return cmd
}
