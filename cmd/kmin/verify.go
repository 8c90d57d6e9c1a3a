package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/kmin/internal/checkpoint"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every checkpoint extends the one before it",
	Long: `Parse every checkpoint and check the chain: classifications only grow,
each step adds exactly one not-required symbol, and no symbol value is
ever raised. Exits non-zero when a problem is found.`,
	Run: func(cmd *cobra.Command, args []string) {
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		store := readStore()
		snaps, err := store.LoadAll(loadDeclarations())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		problems := checkpoint.VerifyChain(snaps)
		if len(problems) == 0 {
			fmt.Printf("%s %d checkpoints verified\n", green("✓"), len(snaps))
			return
		}
		for _, p := range problems {
			fmt.Printf("%s %s\n", red("✗"), p)
		}
		fmt.Fprintf(os.Stderr, "Error: %d problems in %d checkpoints\n", len(problems), len(snaps))
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
