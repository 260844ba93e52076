package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/valentindosimont/usagedash/internal/store"
	"github.com/valentindosimont/usagedash/internal/usage"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Aliases: []string{"health"},
	Short:   "Print where usagedash reads and writes, and what exists",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(a.Doctor(cfgPath))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded snapshots, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("provider")
		limit, _ := cmd.Flags().GetInt("limit")

		var provider usage.Provider
		if name != "" && name != "all" {
			p, err := usage.ParseProvider(name)
			if err != nil {
				return err
			}
			provider = p
		}

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		entries, err := a.History(cmd.Context(), provider, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No history recorded yet.")
			return nil
		}

		loc, err := cfg.Location()
		if err != nil {
			loc = time.Local
		}
		formatHistory(cmd.OutOrStdout(), entries, loc)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Refresh in the background and serve /snapshot, /healthz and /metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		return a.Serve(cmd.Context(), addr)
	},
}

var selfUpdateCmd = &cobra.Command{
	Use:   "self-update",
	Short: "Update the usagedash binary",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.ErrOrStderr(), "self-update is not wired to release downloads yet; use scripts/install.sh for now")
	},
}

func formatHistory(out io.Writer, entries []store.Entry, loc *time.Location) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "GENERATED\tPROVIDER\tSTATUS\tSESSION%\tWEEKLY%\tSOURCE\tSNAPSHOT")
	_, _ = fmt.Fprintln(w, "---------\t--------\t------\t--------\t-------\t------\t--------")

	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.GeneratedAt.In(loc).Format("2006-01-02 15:04:05"),
			e.Record.Provider,
			e.Record.Status,
			pctOrDash(e.Record.SessionUsedPct),
			pctOrDash(e.Record.WeeklyUsedPct),
			e.Record.Source,
			shortID(e.SnapshotID),
		)
	}
	_ = w.Flush()
}

func pctOrDash(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	historyCmd.Flags().String("provider", "all", "all, codex, claude or gemini")
	historyCmd.Flags().Int("limit", 20, "maximum number of records")
	serveCmd.Flags().String("addr", "", "listen address (default server.addr)")

	rootCmd.AddCommand(doctorCmd, historyCmd, serveCmd, selfUpdateCmd)
}
