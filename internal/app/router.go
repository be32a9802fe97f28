package app

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dvisd/campus-router/internal/campus"
	"github.com/dvisd/campus-router/internal/engine"
	"github.com/dvisd/campus-router/pkg/sheets"
)

// Options tunes the gateway client for one run.
type Options struct {
	RateLimitRPS   float64
	RequestTimeout time.Duration
}

// Run executes one routing invocation against the gateway.
//
// A present record runs the single-submission path; a nil record runs the
// full replay. The report is returned as well as logged so callers (and the
// trigger platform) can surface the new-row count.
func Run(ctx context.Context, env sheets.Env, cfg engine.Config, rec engine.Record, opts Options) (engine.Report, error) {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	runID := uuid.NewString()
	logf := func(format string, args ...any) {
		prefix := make([]any, 0, len(args)+1)
		prefix = append(prefix, runID)
		prefix = append(prefix, args...)
		logger.Printf("run=%s "+format, prefix...)
	}
	runStart := time.Now()

	client, err := sheets.NewClient(env.GatewayURL, env.Token, env.DefaultCAPath, sheets.Options{
		RateLimitRPS: opts.RateLimitRPS,
		Timeout:      opts.RequestTimeout,
	})
	if err != nil {
		return engine.Report{}, err
	}

	st := &sheetStorage{client: client, spreadsheetID: env.SpreadsheetID}
	eng := engine.New(st, campus.Default(), cfg)

	logf("run start: spreadsheet=%s delivered=%t rateLimitRPS=%g timeout=%s",
		env.SpreadsheetID, len(rec) > 0, opts.RateLimitRPS, opts.RequestTimeout)

	rep, err := eng.Run(ctx, rec)
	if err != nil {
		return rep, err
	}

	if rep.Stopped != "" {
		logf("run stopped: mode=%s reason=%q duration=%s",
			rep.Mode, rep.Stopped, time.Since(runStart).Round(time.Millisecond))
		return rep, nil
	}
	logf("run complete: mode=%s newRows=%d elementary=%d middle=%d high=%d unrouted=%d duplicates=%d duration=%s",
		rep.Mode,
		rep.NewRows,
		rep.Routed[campus.Elementary],
		rep.Routed[campus.Middle],
		rep.Routed[campus.High],
		rep.Unrouted,
		rep.Duplicates,
		time.Since(runStart).Round(time.Millisecond),
	)
	return rep, nil
}
