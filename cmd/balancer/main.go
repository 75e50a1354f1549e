package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainetl/chainetl/app/balancer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := balancer.Initialize(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "balancer:", err)
		os.Exit(2)
	}

	if err := app.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "balancer:", err)
		cancel()
		os.Exit(1)
	}
}
