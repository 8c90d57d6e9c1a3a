package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/kmin/internal/kconfig"
	"github.com/steveyegge/kmin/internal/state"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List checkpoints with their classification counts",
	Run: func(cmd *cobra.Command, args []string) {
		store := readStore()
		entries, err := store.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		if len(entries) == 0 {
			fmt.Printf("%s\n", gray("No checkpoints"))
			return
		}

		fmt.Printf("%-6s %-9s %-13s %-12s %s\n", "INDEX", "REQUIRED", "NOT REQUIRED", "SAVED", "MODIFIED")
		for _, e := range entries {
			info, err := os.Stat(e.Path)
			if err != nil {
				fmt.Printf("%-6d %s\n", e.Index, red(err.Error()))
				continue
			}
			header, err := kconfig.ReadHeader(e.Path)
			if err != nil {
				fmt.Printf("%-6d %s\n", e.Index, red(err.Error()))
				continue
			}
			class, err := state.Parse(header)
			if err != nil {
				fmt.Printf("%-6d %s\n", e.Index, red(fmt.Sprintf("bad header: %v", err)))
				continue
			}
			required, notRequired := class.Counts()
			fmt.Printf("%-6d %-9d %-13d %-12s %s\n",
				e.Index, required, notRequired, formatBytes(class.TotalSaved()),
				gray(info.ModTime().Format("2006-01-02 15:04:05")))
		}
	},
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
}
