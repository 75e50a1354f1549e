package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainetl/chainetl/app/streamer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := streamer.Initialize(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "streamer:", err)
		os.Exit(2)
	}

	if err := app.Start(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
