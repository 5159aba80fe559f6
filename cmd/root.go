// Package cmd defines and implements the CLI commands for the scrapequeue executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/app"
	"github.com/JakeFAU/scrape-queue/internal/config"
	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

// Service is the application surface the commands drive. It lets tests
// inject a fake in place of *app.App.
type Service interface {
	Run(ctx context.Context) error
	LookupOnce(ctx context.Context, key string) (lookup.Result, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newService is the application factory. It's a variable so tests can
// replace it.
var newService = func(ctx context.Context, cfg config.Config) (Service, error) {
	return app.Build(ctx, cfg)
}

type configKeyType struct{}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scrapequeue",
		Short: "Pollable job API in front of a slow headless lookup.",
		Long: `scrapequeue accepts lookup requests over HTTP, runs them against the
upstream site through a shared headless browser with bounded concurrency,
and lets callers poll for the result.`,
		SilenceUsage: true,

		// Config is loaded once here so every subcommand sees the same values.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML/JSON/TOML); env vars use the SCRAPEQ_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLookupCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "scrapequeue:", err)
		os.Exit(1)
	}
}
