package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/steveyegge/kmin/internal/checkpoint"
	"github.com/steveyegge/kmin/internal/config"
	"github.com/steveyegge/kmin/internal/kconfig"
)

// version is recorded in the run lock
var version = "dev"

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kmin",
	Short: "Find a minimal kernel configuration that still boots",
	Long: `kmin disables kernel configuration symbols one at a time, keeping each
change only if the kernel still builds, gets smaller, and boots. Every
confirmed step is saved as a numbered checkpoint so a run can be resumed.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// An explicitly named config file must exist; a discovered one is optional
		path, mustExist := configPath, true
		if !cmd.Flags().Changed("config") {
			wd, err := os.Getwd()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to get current directory: %v\n", err)
				os.Exit(1)
			}
			path, mustExist = config.Discover(wd)
		}
		loaded, err := config.Load(path, !mustExist)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := loaded.ApplyEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.FileName, "Path to the YAML configuration file (overrides $KMIN_CONFIG)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// validateConfig exits when the configuration cannot drive a run
func validateConfig() {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the configured checkpoint directory, creating it for a run
func openStore() *checkpoint.Store {
	return mustStore(checkpoint.NewStore(cfg.Resolve(cfg.CheckpointDir)))
}

// readStore opens the checkpoint directory for the read-only views
func readStore() *checkpoint.Store {
	return mustStore(checkpoint.OpenStore(cfg.Resolve(cfg.CheckpointDir)))
}

func mustStore(store *checkpoint.Store, err error) *checkpoint.Store {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return store
}

// loadDeclarations reads the optional symbol declarations file
func loadDeclarations() []kconfig.Decl {
	if cfg.Declarations == "" {
		return nil
	}
	decls, err := kconfig.LoadDeclarations(cfg.Resolve(cfg.Declarations))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return decls
}
