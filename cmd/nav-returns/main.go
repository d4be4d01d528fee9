package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"navfeed/internal/app"
	"navfeed/internal/returns"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env, err := app.Setup(ctx, "nav-returns")
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer env.Close()

	if err := run(ctx, env); err != nil {
		env.Log.Error("recomputing returns", "error", err)
		env.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, env *app.Env) error {
	snap, err := env.Store.ReadSnapshot(ctx)
	if err != nil {
		return err
	}
	if err := returns.Recompute(ctx, snap, env.Store); err != nil {
		return err
	}
	return env.Store.WriteSnapshot(ctx, snap)
}
