package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valentindosimont/usagedash/internal/daemon"
	"github.com/valentindosimont/usagedash/internal/snapshot"
	"github.com/valentindosimont/usagedash/internal/tui"
	"github.com/valentindosimont/usagedash/internal/usage"
)

const panelWidth = 80

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive dashboard (default command)",
	RunE:  runDashboard,
}

// runDashboard keeps logs off the terminal while the TUI owns it; refresh
// errors are shown in the dashboard footer instead.
func runDashboard(cmd *cobra.Command, _ []string) error {
	a, err := newApp(zap.NewNop())
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck
	return a.RunDashboard(cmd.Context())
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Collect once and print a table",
	Long:  "Collect once and print a table. With --cached, print the last written state file instead.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cached, _ := cmd.Flags().GetBool("cached")

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		collect := a.Cycle
		if cached {
			collect = func(context.Context) (usage.Snapshot, error) { return a.Cached() }
		}
		snap, err := collect(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "status")
		}
		printTable(cmd.OutOrStdout(), snap)
		return nil
	},
}

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Collect once and print one panel per provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("provider")
		var only usage.Provider
		if name != "all" {
			p, err := usage.ParseProvider(name)
			if err != nil {
				return err
			}
			only = p
		}

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		snap, err := a.Cycle(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "panel")
		}

		loc, _ := cfg.Location()
		opts := tui.CardOptions{Width: panelWidth, Now: time.Now(), Location: loc}
		out := cmd.OutOrStdout()
		for _, rec := range snap.Providers {
			if only != "" && rec.Provider != only {
				continue
			}
			fmt.Fprintln(out, tui.Card(rec, opts))
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Redraw the status table on every refresh",
	RunE: func(cmd *cobra.Command, _ []string) error {
		seconds, _ := cmd.Flags().GetInt("interval")
		if seconds < 0 {
			return eris.New("--interval must not be negative")
		}

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		mon := a.Monitor(time.Duration(seconds) * time.Second)
		done := make(chan error, 1)
		go func() { done <- mon.Run(cmd.Context()) }()

		out := cmd.OutOrStdout()
		for ev := range mon.Events() {
			if ev.Type == daemon.EventError {
				fmt.Fprintf(cmd.ErrOrStderr(), "refresh failed: %v\n", ev.Err)
				continue
			}
			fmt.Fprint(out, "\x1b[2J\x1b[H")
			printTable(out, ev.Snapshot)
		}
		return <-done
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	Aliases: []string{"snapshot"},
	Short:   "Collect once and print the snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "json" {
			return eris.Errorf("unsupported format: %s; only json is supported", format)
		}

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		snap, err := a.Cycle(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "export")
		}
		data, err := snapshot.Marshal(snap)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func printTable(w io.Writer, snap usage.Snapshot) {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.Local
	}
	fmt.Fprintf(w, "Usage snapshot generated at %s\n", snap.GeneratedAt.In(loc).Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, tui.Table(snap, loc))
}

func init() {
	statusCmd.Flags().Bool("cached", false, "print the last written snapshot without collecting")
	panelCmd.Flags().String("provider", "all", "all, codex, claude or gemini")
	watchCmd.Flags().Int("interval", 0, "seconds between refreshes (default general.refresh_seconds)")
	exportCmd.Flags().String("format", "json", "output format (json)")

	rootCmd.AddCommand(dashboardCmd, statusCmd, panelCmd, watchCmd, exportCmd)
}
