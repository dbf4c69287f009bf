package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
	"github.com/JakeFAU/forum-lead-crawler/internal/server"
)

var statusOrder = []ledger.Status{
	ledger.StatusNew,
	ledger.StatusReady,
	ledger.StatusNotJob,
	ledger.StatusFailed,
	ledger.StatusSent,
}

// newLedgerCmd groups the ledger inspection and maintenance commands. None of
// them need delivery settings.
func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the thread ledger",
	}
	cmd.AddCommand(newLedgerStatsCmd(), newLedgerShowCmd(), newLedgerPruneCmd())
	return cmd
}

func newLedgerStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print record counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, func(app *server.App) error {
				stats := app.Store().Stats()
				out := cmd.OutOrStdout()
				for _, st := range statusOrder {
					fmt.Fprintf(out, "%-8s %d\n", st, stats[st])
				}
				fmt.Fprintf(out, "%-8s %d\n", "total", app.Store().Len())
				return nil
			})
		},
	}
}

func newLedgerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show KEY",
		Short: "Print one record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(app *server.App) error {
				rec, ok := app.Store().Get(args[0])
				if !ok {
					return fmt.Errorf("no ledger record for %q", args[0])
				}
				data, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return fmt.Errorf("encode record: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
}

func newLedgerPruneCmd() *cobra.Command {
	var maxItems int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop the oldest records beyond --max and save",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, func(app *server.App) error {
				limit := maxItems
				if !cmd.Flags().Changed("max") {
					e, err := resolveEnv(cmd.Context())
					if err != nil {
						return err
					}
					limit = e.cfg.Ledger.PruneLimit
				}
				if limit <= 0 {
					return fmt.Errorf("--max must be > 0")
				}
				removed := app.Store().Prune(limit)
				if err := app.Store().Save(cmd.Context()); err != nil {
					return fmt.Errorf("save ledger: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d, kept %d\n", removed, app.Store().Len())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxItems, "max", 0, "records to keep (default ledger.prune_limit)")
	return cmd
}

func withLedger(cmd *cobra.Command, fn func(app *server.App) error) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	app, err := openLedger(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer app.Close(context.Background())
	return fn(app)
}
