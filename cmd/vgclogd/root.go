package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vgclogd",
	Short: "Verbose GC log daemon",
	Long: `vgclogd renders collector lifecycle hooks as verbose GC XML.

Output goes to stderr, stdout, the process log, subscribers, or rotating
files that can be archived to S3. The collector is simulated.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command until it returns or SIGINT/SIGTERM
// cancels its context.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
