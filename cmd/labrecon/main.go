// main.go - Command line entry point for offline reconciliation.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "labrecon",
		Short:         "Reconcile lab report text into structured test results",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(dictionaryCmd())
	return rootCmd
}
