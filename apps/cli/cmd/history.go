package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitwire/packages/history"
)

var historyCmd = &cobra.Command{
	Use:   "history [exchange-id]",
	Short: "List the exchanges recorded with send --history",
	Long: `List the exchanges recorded in a history database, newest first, or show
one of them by id.

Examples:
  hitwire history --db hitwire.db
  hitwire history --db hitwire.db --limit 5 -o json
  hitwire history --db hitwire.db 0b6f3c1e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: historyCommand,
}

var (
	historyDBFlag     string
	historyLimitFlag  int
	historyOutputFlag string
)

func init() {
	historyCmd.Flags().StringVar(&historyDBFlag, "db", getEnvString("HITWIRE_HISTORY", "hitwire.db"), "History database (env: HITWIRE_HISTORY)")
	historyCmd.Flags().IntVarP(&historyLimitFlag, "limit", "n", 20, "Number of exchanges to list, 0 for all")
	historyCmd.Flags().StringVarP(&historyOutputFlag, "output", "o", "console", "Output format: console, json")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	log := logger(cmd)
	store, err := history.Open(historyDBFlag, *log)
	if err != nil {
		return exitWith(ExitConfigError, err)
	}
	defer store.Close()

	var entries []*history.Entry
	if len(args) == 1 {
		entry, err := store.Get(cmd.Context(), args[0])
		if errors.Is(err, history.ErrNotFound) {
			return exitWith(ExitUsageError, fmt.Errorf("no exchange with id %s", args[0]))
		}
		if err != nil {
			return exitWith(ExitConfigError, err)
		}
		entries = []*history.Entry{entry}
	} else {
		entries, err = store.List(cmd.Context(), historyLimitFlag)
		if err != nil {
			return exitWith(ExitConfigError, err)
		}
	}

	if historyOutputFlag == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}
	printEntries(cmd.OutOrStdout(), entries)
	return nil
}

func printEntries(w io.Writer, entries []*history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No exchanges recorded.")
		return
	}
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	dim := color.New(color.Faint)
	if noColorFlag {
		for _, c := range []*color.Color{green, red, dim} {
			c.DisableColor()
		}
	}

	for _, e := range entries {
		dim.Fprintf(w, "%s  %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.ID)
		fmt.Fprintf(w, "  %s %s\n", e.Method, e.URL)
		switch {
		case e.Failed() && e.Status > 0:
			red.Fprintf(w, "  ✗ %d %s: %s\n", e.Status, e.StatusText, e.Error)
		case e.Failed():
			red.Fprintf(w, "  ✗ %s\n", e.Error)
		default:
			c := green
			if e.Status >= 400 {
				c = red
			}
			c.Fprintf(w, "  %d %s", e.Status, e.StatusText)
			fmt.Fprintf(w, " (%.0fms, %d B", e.LoadingTime, e.ResponseSize)
			if e.Redirects > 0 {
				fmt.Fprintf(w, ", %d redirects", e.Redirects)
			}
			fmt.Fprintln(w, ")")
		}
	}
}
