package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"navfeed/internal/app"
	"navfeed/internal/discover"
	"navfeed/internal/domain"
	"navfeed/internal/ingest"
	"navfeed/internal/returns"
)

func main() {
	seed := flag.Bool("seed", false, "add placeholder snapshot rows for unseen schemes")
	merge := flag.Bool("ingest", false, "merge the latest values of the scheme list into the stores")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env, err := app.Setup(ctx, "nav-discover")
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer env.Close()

	if err := run(ctx, env, *seed, *merge); err != nil {
		env.Log.Error("discovery failed", "error", err)
		env.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, env *app.Env, seed, merge bool) error {
	upstream, err := discover.Upstream(ctx, env.Source)
	if err != nil {
		return err
	}
	snap, err := env.Store.ReadSnapshot(ctx)
	if err != nil {
		return err
	}

	missing := discover.Diff(upstream, snap)
	for _, o := range missing {
		fmt.Printf("%s\t%s\t%s\t%s\n", o.ManagerCode, o.InstrumentCode, o.ManagerName, o.InstrumentName)
	}
	env.Log.Info("discovery finished", "upstream", len(upstream), "known", snap.Len(), "unseen", len(missing))

	if merge {
		return ingestLatest(ctx, env, upstream)
	}
	if !seed || len(missing) == 0 {
		return nil
	}
	n := discover.Seed(snap, missing)
	if err := env.Store.WriteSnapshot(ctx, snap); err != nil {
		return err
	}
	env.Log.Info("seeded placeholder rows", "rows", n)
	return nil
}

// ingestLatest upserts the scheme list and recomputes the snapshot returns.
func ingestLatest(ctx context.Context, env *app.Env, upstream []domain.Observation) error {
	rep := ingest.NewMerger(env.Store, env.Store, env.Log).Upsert(ctx, upstream)
	for code, err := range rep.Failed {
		env.Log.Error("merge failed", "instrument", code, "error", err)
	}
	env.Log.Info("scheme list merged", "updated", len(rep.Updated), "unchanged", len(rep.Unchanged),
		"failed", len(rep.Failed), "new_entries", rep.NewEntries)

	snap, err := env.Store.ReadSnapshot(ctx)
	if err != nil {
		return err
	}
	if err := returns.Recompute(ctx, snap, env.Store); err != nil {
		return err
	}
	if err := env.Store.WriteSnapshot(ctx, snap); err != nil {
		return err
	}
	if len(rep.Failed) > 0 {
		return fmt.Errorf("%d merges failed", len(rep.Failed))
	}
	return nil
}
