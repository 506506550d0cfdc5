// Command marketpayctl is the operator CLI for inspecting and repairing
// vendor payment connections.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{out: os.Stdout}
	if err := newRootCmd(c).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
