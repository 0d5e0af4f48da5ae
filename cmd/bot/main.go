package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfgPath := os.Getenv("DRILLBOT_CONFIG")
	if cfgPath == "" {
		cfgPath = "./config.yaml"
	}
	cmd := &cobra.Command{
		Use:           "drillbot",
		Short:         "Telegram trainer for customer support replies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "path to config (yaml or json)")
	cmd.AddCommand(
		newServeCmd(&cfgPath),
		newExportCmd(&cfgPath),
		newStatsCmd(&cfgPath),
		newResetCmd(&cfgPath),
	)
	return cmd
}
