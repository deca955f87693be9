package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"ghsum/internal/storage"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent refresh runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.History.DBPath == "" {
			return fmt.Errorf("no history database configured; pass --history-db or set history.db_path")
		}

		store, err := storage.NewSQLiteStore(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer store.Close()

		runs, err := store.RecentRuns(withContext(cmd), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
			return nil
		}
		printRuns(cmd, runs)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show")
}

func printRuns(cmd *cobra.Command, runs []*storage.Run) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tCHANNEL\tRESULT\tTITLE\tURL")
	for _, r := range runs {
		started := r.StartedAt.Local().Format(time.DateTime)
		if len(r.Channels) == 0 {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\n", started, r.Status)
			continue
		}
		for _, c := range r.Channels {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", started, r.Status, c.Channel, c.Status, dash(c.Title), dash(c.URL))
		}
	}
	w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
