package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvisd/campus-router/internal/app"
	"github.com/dvisd/campus-router/internal/engine"
	"github.com/dvisd/campus-router/internal/util"
	"github.com/dvisd/campus-router/pkg/sheets"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "submit":
		os.Exit(runSubmit(ctx, os.Args[2:]))
	case "replay":
		os.Exit(runReplay(ctx, os.Args[2:]))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func runSubmit(ctx context.Context, args []string) int {
	opts, err := loadOptionsFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	record := fs.String("record", "", "Delivered form row as a JSON array (empty or unparsable falls back to replay)")
	cfg := bindConfigFlags(fs)
	bindClientFlags(fs, &opts)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	env, err := sheets.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "sheets env error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	// A form trigger can fire with an empty or mangled payload; that is not
	// an error, it just means we cannot trust the delivered row and must
	// re-scan instead.
	rec := parseRecord(*record)

	if _, err := app.Run(ctx, env, *cfg, rec, opts); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "submit run failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	return 0
}

func runReplay(ctx context.Context, args []string) int {
	opts, err := loadOptionsFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfg := bindConfigFlags(fs)
	bindClientFlags(fs, &opts)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	env, err := sheets.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "sheets env error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	if _, err := app.Run(ctx, env, *cfg, nil, opts); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "replay run failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	return 0
}

func parseRecord(raw string) engine.Record {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var rec []any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "note: ignoring malformed --record, falling back to replay: %v\n", err)
		return nil
	}
	return rec
}

func bindConfigFlags(fs *flag.FlagSet) *engine.Config {
	cfg := &engine.Config{}
	fs.StringVar(&cfg.SourceSheet, "source", strings.TrimSpace(os.Getenv("SOURCE_SHEET")), "Source sheet name (env: SOURCE_SHEET, default \"Form Responses 1\")")
	fs.StringVar(&cfg.CampusHeader, "campus-header", "", "Campus column header label (default \"Campus\")")
	fs.StringVar(&cfg.TimestampHeader, "timestamp-header", "", "Timestamp column header label (default \"Timestamp\")")
	fs.IntVar(&cfg.StatusColumn, "status-column", 0, "0-based status dropdown column (default 10)")
	return cfg
}

func bindClientFlags(fs *flag.FlagSet, opts *app.Options) {
	fs.Float64Var(&opts.RateLimitRPS, "rate-limit-rps", opts.RateLimitRPS, "Gateway request rate limit (RPS), 0 disables (env: SHEETS_RATE_LIMIT_RPS)")
	fs.DurationVar(&opts.RequestTimeout, "request-timeout", opts.RequestTimeout, "Per-request gateway timeout (env: REQUEST_TIMEOUT)")
}

func loadOptionsFromEnv() (app.Options, error) {
	rateLimitRPS, err := envFloat("SHEETS_RATE_LIMIT_RPS", 4)
	if err != nil {
		return app.Options{}, err
	}
	requestTimeout, err := envDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return app.Options{}, err
	}
	return app.Options{
		RateLimitRPS:   rateLimitRPS,
		RequestTimeout: requestTimeout,
	}, nil
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `campusrouter: routes form-submission rows to per-level campus sheets

Usage:
  campusrouter <command> [flags]

Commands:
  submit   Route one delivered form row (falls back to replay when the
           delivered row is missing or malformed)
  replay   Re-scan the whole source sheet and route every row not already
           present in a destination (idempotent)

Examples:
  campusrouter submit --record '["2024-01-02 08:00:00","kid@district.test","Allen"]'
  campusrouter replay

Environment:
  SHEETS_SERVICE_DISCOVERY  Service discovery YAML file path (or SHEETS_URL)
  SHEETS_TOKEN              File path containing a bearer token
  SPREADSHEET_ID            Spreadsheet to operate on
  DEFAULT_CA_PATH           Optional PEM trust store for TLS
  SHEETS_RATE_LIMIT_RPS     Gateway request rate limit (default 4)
  REQUEST_TIMEOUT           Per-request timeout (default 30s)
  SOURCE_SHEET              Source sheet name override

`)
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
