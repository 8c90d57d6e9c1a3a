package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/kmin/internal/kconfig"
	"github.com/steveyegge/kmin/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the classification recorded in the latest checkpoint",
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== kmin Status ==="))

		store := readStore()
		latest, ok, err := store.Latest()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Printf("  %s\n", gray(fmt.Sprintf("No checkpoints in %s; 'kmin run' starts from %s", store.Dir(), cfg.SeedConfig)))
			return
		}

		header, err := kconfig.ReadHeader(latest.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		class, err := state.Parse(header)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: parsing header of %s: %v\n", latest.Path, err)
			os.Exit(1)
		}

		required, notRequired := class.Counts()
		fmt.Printf("%s %s %s\n", yellow("Checkpoint:"), latest.Path, gray(fmt.Sprintf("(index %d)", latest.Index)))
		fmt.Printf("%s %d\n", yellow("Required:"), required)
		fmt.Printf("%s %d, %s saved\n", yellow("Not required:"), notRequired, formatBytes(class.TotalSaved()))

		if !verbose {
			return
		}

		fmt.Println()
		for _, name := range class.RequiredNames() {
			fmt.Printf("  %s %s\n", red("●"), name)
		}
		entries := class.NotRequiredEntries()
		// Biggest savings first
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Saved > entries[j].Saved })
		for _, e := range entries {
			fmt.Printf("  %s %-40s %s\n", green("○"), e.Name, gray(formatBytes(e.Saved)))
		}
	},
}

func init() {
	statusCmd.Flags().BoolP("verbose", "v", false, "List every classified symbol")
	rootCmd.AddCommand(statusCmd)
}
