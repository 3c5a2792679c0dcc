package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/elga-io/corgi/internal/app"
	"github.com/elga-io/corgi/internal/config"
	"github.com/elga-io/corgi/internal/logger"
)

var (
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "corgi",
	Short:         "Operate a corgi link shortener deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log = logger.New("corgi")
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

// openApp connects to the configured store. Callers must Close it.
func openApp(ctx context.Context, opts app.Options) (*app.App, error) {
	return app.New(ctx, cfg, log, opts)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(migrateCmd, createCmd, listCmd, qrCmd)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
