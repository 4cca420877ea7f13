// Command events queries harvested events and prints them as JSON lines.
//
//	events -category music -from 2024-10-01 -to 2024-11-01
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/couchcryptid/event-harvest-service/internal/adapter/postgres"
	"github.com/couchcryptid/event-harvest-service/internal/config"
	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

const dateLayout = "2006-01-02"

func main() {
	if err := config.LoadEnvFile(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	filter, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	cfg := config.LoadQuery()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	store, err := postgres.New(ctx, cfg.DatabaseURL, 1, domain.PolicyKeepFirst, logger, observability.NewMetrics())
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	records, err := store.Query(ctx, filter)
	if err != nil {
		logger.Error("query failed", "error", err)
		os.Exit(1)
	}
	if err := writeJSONLines(os.Stdout, records); err != nil {
		logger.Error("write failed", "error", err)
		os.Exit(1)
	}
}

// parseFlags builds a Filter. Dates are calendar days in -tz; -to is inclusive.
func parseFlags(args []string, stderr io.Writer) (postgres.Filter, error) {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	category := fs.String("category", "", "category (case-insensitive)")
	location := fs.String("location", "", "neighborhood or location (case-insensitive)")
	from := fs.String("from", "", "first day, "+dateLayout)
	to := fs.String("to", "", "last day, "+dateLayout)
	tz := fs.String("tz", "America/Los_Angeles", "timezone for -from and -to")
	limit := fs.Int("limit", 100, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return postgres.Filter{}, err
	}

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		fmt.Fprintln(stderr, "invalid -tz:", err)
		return postgres.Filter{}, err
	}
	f := postgres.Filter{Category: *category, Location: *location, Limit: *limit}
	if *from != "" {
		if f.From, err = time.ParseInLocation(dateLayout, *from, loc); err != nil {
			fmt.Fprintln(stderr, "invalid -from:", err)
			return postgres.Filter{}, err
		}
	}
	if *to != "" {
		day, err := time.ParseInLocation(dateLayout, *to, loc)
		if err != nil {
			fmt.Fprintln(stderr, "invalid -to:", err)
			return postgres.Filter{}, err
		}
		f.To = day.AddDate(0, 0, 1)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		err := fmt.Errorf("-from %s is after -to %s", *from, *to)
		fmt.Fprintln(stderr, err)
		return postgres.Filter{}, err
	}
	return f, nil
}

func writeJSONLines(w io.Writer, records []domain.EventRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
