package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/kmin/internal/checkpoint"
	"github.com/steveyegge/kmin/internal/events"
	"github.com/steveyegge/kmin/internal/gates"
	"github.com/steveyegge/kmin/internal/kconfig"
	"github.com/steveyegge/kmin/internal/minimizer"
	"github.com/steveyegge/kmin/internal/state"
	"github.com/steveyegge/kmin/internal/storage/sqlite"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run or resume the minimization",
	Long: `Build the start configuration, then lower one symbol per iteration until
no candidate is left. Resumes from the highest checkpoint when one exists,
otherwise starts from the seed configuration. Ctrl+C stops after the
current build; confirmed progress is already saved.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("max-iterations") {
			cfg.Budget.MaxIterations, _ = cmd.Flags().GetInt("max-iterations")
		}
		if cmd.Flags().Changed("max-duration") {
			cfg.Budget.MaxDuration, _ = cmd.Flags().GetDuration("max-duration")
		}
		if cmd.Flags().Changed("boot-timeout") {
			cfg.Boot.Timeout, _ = cmd.Flags().GetDuration("boot-timeout")
		}
		if cmd.Flags().Changed("history-db") {
			cfg.HistoryDB, _ = cmd.Flags().GetString("history-db")
		}
		validateConfig()

		// Exit after the deferred cleanup in runMinimizer
		if code := runMinimizer(); code != 0 {
			os.Exit(code)
		}
	},
}

// runMinimizer runs the engine and returns the process exit code
func runMinimizer() int {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	decls := loadDeclarations()
	store := openStore()

	// One run per checkpoint directory
	lockPath, err := store.AcquireLock(version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		if err := checkpoint.ReleaseLock(lockPath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to release lock: %v\n", err)
		}
	}()
	fmt.Printf("%s Acquired lock on %s\n", green("✓"), store.Dir())

	model, st, err := loadStart(store, decls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	builder, err := gates.NewBuildGate(&gates.BuildConfig{
		Command:  cfg.Build.Command,
		Dir:      cfg.SourceDir,
		Artifact: cfg.Build.Artifact,
		Env:      cfg.EnvList(),
		LogPath:  cfg.Resolve(cfg.Build.Log),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	booter, err := gates.NewBootGate(&gates.BootConfig{
		Command:    cfg.Boot.Command,
		Cmdline:    cfg.Boot.KernelCmdline,
		Artifact:   builder.ArtifactPath(),
		ListenAddr: cfg.Boot.ListenAddr,
		Timeout:    cfg.Boot.Timeout,
		Grace:      cfg.Boot.Grace,
		Dir:        cfg.SourceDir,
		Env:        cfg.EnvList(),
		ConsoleLog: cfg.Resolve(cfg.Boot.ConsoleLog),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	sinks := events.Multi{newConsoleSink(os.Stdout)}
	if cfg.HistoryDB != "" {
		journal, err := sqlite.New(cfg.Resolve(cfg.HistoryDB))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: run history disabled: %v\n", err)
		} else {
			defer func() {
				if err := journal.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "warning: failed to close history database: %v\n", err)
				}
			}()
			sinks = append(sinks, journal)
		}
	}

	engine, err := minimizer.New(minimizer.Config{
		Model:         model,
		Builder:       builder,
		Booter:        booter,
		Checkpoints:   store,
		ConfigPath:    cfg.Resolve(cfg.ConfigPath),
		Sink:          sinks,
		MaxIterations: cfg.Budget.MaxIterations,
		MaxDuration:   cfg.Budget.MaxDuration,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Printf("\n%s\n", yellow("Interrupt received, stopping after the current step..."))
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := engine.Run(ctx, st)
	printSummary(result)

	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Printf("Run 'kmin run' again to resume from checkpoint %d.\n", result.State.Checkpoint)
		return 130
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
}

// loadStart picks the configuration a run begins from: the highest
// checkpoint when one exists, the seed otherwise
func loadStart(store *checkpoint.Store, decls []kconfig.Decl) (*kconfig.Config, minimizer.State, error) {
	latest, ok, err := store.Latest()
	if err != nil {
		return nil, minimizer.State{}, err
	}
	if !ok {
		model, _, err := kconfig.LoadFile(cfg.Resolve(cfg.SeedConfig), decls)
		if err != nil {
			return nil, minimizer.State{}, fmt.Errorf("loading seed configuration: %w", err)
		}
		return model, minimizer.FreshState(), nil
	}

	model, header, err := kconfig.LoadFile(latest.Path, decls)
	if err != nil {
		return nil, minimizer.State{}, fmt.Errorf("loading checkpoint: %w", err)
	}
	class, err := state.Parse(header)
	if err != nil {
		return nil, minimizer.State{}, fmt.Errorf("parsing header of %s: %w", latest.Path, err)
	}
	return model, minimizer.ResumeState(latest.Index, class), nil
}

func printSummary(result *minimizer.Result) {
	if result == nil || result.State.Class == nil {
		return
	}
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	required, notRequired := result.State.Class.Counts()
	fmt.Printf("\n%s\n", cyan("=== Run Summary ==="))
	fmt.Printf("  Iterations:   %d\n", len(result.Iterations))
	fmt.Printf("  Required:     %d\n", required)
	fmt.Printf("  Not required: %d\n", notRequired)
	fmt.Printf("  Saved:        %s\n", formatBytes(result.State.Class.TotalSaved()))
	if result.State.Size > 0 {
		fmt.Printf("  Kernel size:  %s\n", formatBytes(result.State.Size))
	}
	if result.State.Checkpoint >= 0 {
		fmt.Printf("  %s\n", gray(fmt.Sprintf("Latest checkpoint: %s%d", checkpoint.FilePrefix, result.State.Checkpoint)))
	}
}

func init() {
	runCmd.Flags().Int("max-iterations", 0, "Stop after this many iterations (0 = unbounded)")
	runCmd.Flags().Duration("max-duration", 0, "Stop starting new iterations after this long (0 = unbounded)")
	runCmd.Flags().Duration("boot-timeout", 0, "How long to wait for the boot signal (overrides boot.timeout)")
	runCmd.Flags().String("history-db", "", "SQLite run history database (overrides history_db)")
	rootCmd.AddCommand(runCmd)
}
