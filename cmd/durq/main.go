package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	clientcmd "github.com/rzbill/durq/internal/cmd/client"
	serverrun "github.com/rzbill/durq/internal/cmd/server"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "durq",
		Short:        "durq persistent queue CLI",
		Long:         "durq is a persistent at-least-once message queue. This CLI runs the server, talks to it and benchmarks backends.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serverrun.NewCommand())
	rootCmd.AddCommand(clientcmd.NewQueueCommand(clientcmd.BaseURLFromEnv))
	rootCmd.AddCommand(clientcmd.NewBenchCommand())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
