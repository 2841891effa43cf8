package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/cadence/pkg/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded snapshots and plans",
	Long: `History reads the snapshot store written by "cadence run" when storage is
enabled.

Examples:
  # List targets with recorded history
  cadence history --data-dir /var/lib/cadence

  # Show the last 20 snapshots and plans of one target
  cadence history --data-dir /var/lib/cadence --target joesguns --limit 20

  # Delete records older than a day
  cadence history --data-dir /var/lib/cadence --prune 24h`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("data-dir", "", "History directory (default: storage.data_dir from the config)")
	historyCmd.Flags().String("target", "", "Target to show (default: list targets)")
	historyCmd.Flags().Int("limit", 10, "Maximum records of each kind to show")
	historyCmd.Flags().Duration("prune", 0, "Delete records older than this before listing")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	target, _ := cmd.Flags().GetString("target")
	limit, _ := cmd.Flags().GetInt("limit")
	prune, _ := cmd.Flags().GetDuration("prune")

	if dataDir == "" {
		dataDir = cfg.Storage.DataDir
	}
	if dataDir == "" {
		return fmt.Errorf("--data-dir is required when storage is not configured")
	}

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	if prune > 0 {
		removed, err := store.Prune(time.Now().Add(-prune))
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		fmt.Printf("✓ Pruned %d records\n", removed)
	}

	if target == "" {
		targets, err := store.Targets()
		if err != nil {
			return fmt.Errorf("failed to list targets: %w", err)
		}
		if len(targets) == 0 {
			fmt.Println("No history recorded")
			return nil
		}
		for _, t := range targets {
			fmt.Println(t)
		}
		return nil
	}

	return printHistory(store, target, limit)
}

func printHistory(store storage.Store, target string, limit int) error {
	analyses, err := store.ListAnalyses(target, limit)
	if err != nil {
		return fmt.Errorf("failed to list plans: %w", err)
	}
	snapshots, err := store.ListSnapshots(target, limit)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Plans for %s:\n", target)
	fmt.Fprintln(w, "TIME\tRUN\tCOMPOSITION\tSCORE\tMEMORY\tCONCURRENCY")
	for _, r := range analyses {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4g\t%.2f\t%d\n",
			r.Time.Format(time.RFC3339),
			shortID(r.RunID),
			r.Analysis.Composition,
			r.Analysis.Score,
			r.Analysis.Memory,
			r.Analysis.MaxConcurrency,
		)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Snapshots for %s:\n", target)
	fmt.Fprintln(w, "TIME\tRUN\tPHASE\tBUDGET\tMONEY\tSECURITY\tREALISED\tCANCELLED\tOOM")
	for _, r := range snapshots {
		m := r.Snapshot.Metrics
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.3f\t%.3f\t%d\t%d\t%d\n",
			r.Time.Format(time.RFC3339),
			shortID(r.RunID),
			r.Snapshot.Phase,
			r.Snapshot.Budget,
			m.Money,
			m.Security,
			m.RealisedBatches,
			m.CancelledBatches,
			m.OOMBatches,
		)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
