package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gear6io/gharp/cli"
)

func main() {
	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = cli.WithDisplay(ctx, cli.NewDisplay(os.Stdout))
	if err := cli.ExecuteWithContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
