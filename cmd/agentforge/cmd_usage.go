package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"agentforge/internal/usage"

	"github.com/spf13/cobra"
)

// usageCmd prints recorded token usage
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage by model and project",
	RunE:  showUsage,
}

func showUsage(cmd *cobra.Command, args []string) error {
	_, ws, err := loadConfig()
	if err != nil {
		return err
	}
	tracker, err := usage.NewTracker(filepath.Join(ws, ".agentforge"))
	if err != nil {
		return err
	}
	renderUsage(cmd.OutOrStdout(), tracker.Stats())
	return nil
}

func renderUsage(w io.Writer, stats usage.AggregatedStats) {
	if stats.Total.Calls == 0 {
		fmt.Fprintln(w, dimStyle.Render("no usage recorded"))
		return
	}
	fmt.Fprintf(w, "%s  %d turns  %d in / %d out / %d total\n",
		titleStyle.Render("TOTAL"), stats.Total.Calls, stats.Total.Input, stats.Total.Output, stats.Total.Total)

	section := func(name string, m map[string]usage.TokenCounts) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, agentStyle.Render(name))
		for _, k := range keys {
			c := m[k]
			fmt.Fprintf(w, "  %-40s %6d turns %10d tokens\n", k, c.Calls, c.Total)
		}
	}
	section("BY MODEL", stats.ByModel)
	section("BY PROJECT", stats.ByProject)
}
