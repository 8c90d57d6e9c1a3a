package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/steveyegge/kmin/internal/gates"
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Tell the host the guest booted (run inside the guest)",
	Long: `Connect to the host listener to report a successful boot. Put this in the
guest's init sequence once networking is up. Under QEMU user networking the
host is reachable at 10.0.2.2.`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		interval, _ := cmd.Flags().GetDuration("interval")

		err := gates.Signal(context.Background(), gates.SignalConfig{
			Addr:     addr,
			Timeout:  timeout,
			Interval: interval,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	signalCmd.Flags().String("addr", "10.0.2.2:1234", "Host listener address")
	signalCmd.Flags().Duration("timeout", time.Minute, "Give up after this long (0 = one attempt)")
	signalCmd.Flags().Duration("interval", 500*time.Millisecond, "Minimum time between connection attempts")
	rootCmd.AddCommand(signalCmd)
}
