package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/kmin/internal/storage/sqlite"
	"github.com/steveyegge/kmin/internal/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show journaled runs and iterations",
	Long: `Read the SQLite run history (history_db). Without filters, lists runs
newest first; with --run, --symbol or --verdict, lists matching iterations.`,
	Run: func(cmd *cobra.Command, args []string) {
		dbPath, _ := cmd.Flags().GetString("db")
		runID, _ := cmd.Flags().GetString("run")
		symbol, _ := cmd.Flags().GetString("symbol")
		verdict, _ := cmd.Flags().GetString("verdict")
		limit, _ := cmd.Flags().GetInt("limit")

		if dbPath == "" {
			dbPath = cfg.HistoryDB
		}
		if dbPath == "" {
			fmt.Fprintf(os.Stderr, "Error: no history database (set history_db or pass --db)\n")
			os.Exit(1)
		}
		if verdict != "" && !types.Verdict(verdict).IsValid() {
			fmt.Fprintf(os.Stderr, "Error: invalid verdict %q\n", verdict)
			os.Exit(1)
		}

		journal, err := sqlite.New(cfg.Resolve(dbPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = journal.Close() }()

		ctx := context.Background()
		if runID == "" && symbol == "" && verdict == "" {
			err = showRuns(ctx, journal, limit)
		} else {
			err = showIterations(ctx, journal, sqlite.IterationFilter{
				RunID:   runID,
				Symbol:  symbol,
				Verdict: types.Verdict(verdict),
				Limit:   limit,
			})
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			_ = journal.Close()
			os.Exit(1)
		}
	},
}

func showRuns(ctx context.Context, journal *sqlite.Journal, limit int) error {
	runs, err := journal.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	if len(runs) == 0 {
		fmt.Printf("%s\n", gray("No runs recorded"))
		return nil
	}

	for _, r := range runs {
		start := "fresh"
		if r.Resumed {
			start = fmt.Sprintf("resumed at %d", r.StartCheckpoint)
		}
		status := yellow("running or killed")
		if r.FinishedAt != nil {
			status = fmt.Sprintf("%s after %s", r.Reason, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
		}
		fmt.Printf("%s  %s  %s\n", r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), status)
		fmt.Printf("  %s\n", gray(joinFields([]string{
			start,
			fmt.Sprintf("%d iterations", r.Iterations),
			fmt.Sprintf("%d required", r.Required),
			fmt.Sprintf("%d not required", r.NotRequired),
			formatBytes(r.TotalSaved) + " saved",
		})))
	}
	return nil
}

func showIterations(ctx context.Context, journal *sqlite.Journal, filter sqlite.IterationFilter) error {
	its, err := journal.ListIterations(ctx, filter)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	if len(its) == 0 {
		fmt.Printf("%s\n", gray("No matching iterations"))
		return nil
	}

	for _, it := range its {
		mark := red("✗")
		detail := string(it.Verdict)
		if !it.Verdict.Required() {
			mark = green("✓")
			detail = fmt.Sprintf("saved %s, checkpoint %d", formatBytes(it.Saved), it.Checkpoint)
		}
		fmt.Printf("%s %-5d %-32s %s -> %s  %s %s\n",
			mark, it.Number, it.Symbol, it.Before, it.After, detail,
			gray(shortID(it.RunID)+" "+formatDurationMs(int(it.Duration.Milliseconds()))))
	}
	return nil
}

// shortID abbreviates a run id
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	historyCmd.Flags().String("db", "", "History database (defaults to history_db)")
	historyCmd.Flags().String("run", "", "Only iterations of this run")
	historyCmd.Flags().String("symbol", "", "Only iterations of this symbol")
	historyCmd.Flags().String("verdict", "", "Only iterations with this verdict (not_required, build_failed, no_shrink, boot_failed)")
	historyCmd.Flags().IntP("limit", "n", 0, "Maximum rows (0 = all)")
	rootCmd.AddCommand(historyCmd)
}
