package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <key>",
		Short: "Runs one lookup synchronously and prints the result",
		Long: `Performs a single lookup through the same browser pool and executor the
server uses, bypassing the queue, and prints the result as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: runLookupCommand,
	}
}

func runLookupCommand(cmd *cobra.Command, args []string) (err error) {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	svc, err := newService(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := svc.Close(closeCtx); cerr != nil {
			svc.Logger().Warn("close failed", zap.Error(cerr))
		}
	}()

	result, err := svc.LookupOnce(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("lookup failed (%s): %w", lookup.KindOf(err), err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
