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
	"navfeed/internal/backfill"
	"navfeed/internal/datefmt"
	"navfeed/internal/domain"
)

func main() {
	dateFlag := flag.String("date", "", "date to ingest (default today)")
	retry := flag.Bool("retry", false, "ingest again even if the date is recorded as completed")
	flag.Parse()

	day := domain.Today()
	if *dateFlag != "" {
		d, err := datefmt.Normalize(*dateFlag)
		if err != nil {
			log.Fatalf("invalid -date %q: %v", *dateFlag, err)
		}
		day = d
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env, err := app.Setup(ctx, "nav-daily")
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer env.Close()

	opts := backfill.OptionsFromConfig(env.Config)
	opts.Retry = *retry
	c := backfill.New(backfill.Deps{Source: env.Source, Store: env.Store, Log: env.Log}, opts)

	rep, err := c.Daily(ctx, day)
	if err != nil {
		env.Log.Error("daily ingestion failed", "date", day, "error", err)
		os.Exit(1)
	}
	for _, line := range rep.Summary() {
		fmt.Println(line)
	}
	if !rep.OK() {
		os.Exit(1)
	}
}
