package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elga-io/corgi/internal/app"
	"github.com/elga-io/corgi/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the storage schema, and the ClickHouse schema when configured",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), app.Options{Migrate: true, ClickHouse: true})
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		switch cfg.Storage.Backend {
		case config.BackendMemory:
			fmt.Fprintln(out, "memory backend has no schema")
		default:
			fmt.Fprintf(out, "%s schema is up to date\n", cfg.Storage.Backend)
		}
		if a.ClickHouse != nil {
			fmt.Fprintln(out, "clickhouse schema is up to date")
		}
		return nil
	},
}
