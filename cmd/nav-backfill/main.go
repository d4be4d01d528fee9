package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"navfeed/internal/app"
	"navfeed/internal/backfill"
	"navfeed/internal/datefmt"
	"navfeed/internal/domain"
	"navfeed/internal/source"
	"navfeed/internal/store"
)

func main() {
	mode := flag.String("mode", "range", "range, dates, history or validate")
	startFlag := flag.String("start", "", "first date of the range")
	endFlag := flag.String("end", "", "last date of the range (default today)")
	datesFlag := flag.String("dates", "", "comma separated dates for -mode dates")
	months := flag.Int("months", 0, "export window in months for -mode history (default from config)")
	retry := flag.Bool("retry", false, "refetch dates recorded as unpublished")
	overwrite := flag.Bool("overwrite", false, "replace stored values for existing dates")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env, err := app.Setup(ctx, "nav-backfill")
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer env.Close()

	if *mode == "validate" {
		os.Exit(validate(ctx, env))
	}

	opts := backfill.OptionsFromConfig(env.Config)
	opts.Retry = *retry
	opts.Overwrite = *overwrite
	c := backfill.New(backfill.Deps{Source: env.Source, Store: env.Store, Log: env.Log}, opts)

	var rep *backfill.Report
	switch *mode {
	case "range":
		start, err := parseDate(*startFlag, domain.Date{})
		if err != nil {
			log.Fatalf("invalid -start: %v", err)
		}
		end, err := parseDate(*endFlag, domain.Today())
		if err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
		rep, err = c.BackfillRange(ctx, start, end)
		if err != nil {
			fail(env, err)
		}
	case "dates":
		dates, err := parseDates(*datesFlag)
		if err != nil {
			log.Fatalf("invalid -dates: %v", err)
		}
		rep, err = c.BackfillDates(ctx, dates)
		if err != nil {
			fail(env, err)
		}
	case "history":
		w := source.Window{Months: env.Config.Backfill.WindowMonths}
		if *months > 0 {
			w.Months = *months
		}
		rep, err = c.BackfillHistory(ctx, w)
		if err != nil {
			fail(env, err)
		}
	default:
		log.Fatalf("unknown -mode %q", *mode)
	}

	for _, line := range rep.Summary() {
		fmt.Println(line)
	}
	if !rep.OK() {
		os.Exit(1)
	}
}

func fail(env *app.Env, err error) {
	env.Log.Error("backfill failed", "error", err)
	env.Close()
	os.Exit(1)
}

func validate(ctx context.Context, env *app.Env) int {
	issues, err := store.Validate(ctx, env.Store)
	if err != nil {
		env.Log.Error("validation failed", "error", err)
		return 1
	}
	for _, is := range issues {
		fmt.Println(is)
	}
	fmt.Printf("%d issue(s)\n", len(issues))
	for _, is := range issues {
		if is.Err != nil {
			return 1
		}
	}
	return 0
}

func parseDate(s string, def domain.Date) (domain.Date, error) {
	if s == "" {
		return def, nil
	}
	return datefmt.Normalize(s)
}

func parseDates(s string) ([]domain.Date, error) {
	var dates []domain.Date
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		d, err := datefmt.Normalize(tok)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", tok, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}
