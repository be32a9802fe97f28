package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/dvisd/campus-router/internal/engine"
	"github.com/dvisd/campus-router/pkg/sheets"
)

// sheetStorage adapts the gateway client to the engine's Storage interface,
// retrying transient gateway failures with backoff.
type sheetStorage struct {
	client        *sheets.Client
	spreadsheetID string
}

func (s *sheetStorage) HeaderRow(ctx context.Context, sheet string) ([]string, error) {
	var out []string
	err := retryTransient(ctx, 8, 200*time.Millisecond, func() error {
		var err error
		out, err = s.client.HeaderRow(ctx, s.spreadsheetID, sheet)
		return err
	})
	return out, err
}

func (s *sheetStorage) AllRows(ctx context.Context, sheet string) ([]engine.Record, error) {
	var values [][]any
	err := retryTransient(ctx, 8, 200*time.Millisecond, func() error {
		var err error
		values, err = s.client.Values(ctx, s.spreadsheetID, sheet)
		return err
	})
	if err != nil {
		return nil, err
	}
	rows := make([]engine.Record, len(values))
	for i, row := range values {
		rows[i] = engine.Record(row)
	}
	return rows, nil
}

func (s *sheetStorage) SheetExists(ctx context.Context, sheet string) (bool, error) {
	var ok bool
	err := retryTransient(ctx, 8, 200*time.Millisecond, func() error {
		var err error
		_, ok, err = s.client.GetSheet(ctx, s.spreadsheetID, sheet)
		return err
	})
	return ok, err
}

func (s *sheetStorage) LastRow(ctx context.Context, sheet string) (int, error) {
	var info sheets.Sheet
	var ok bool
	err := retryTransient(ctx, 8, 200*time.Millisecond, func() error {
		var err error
		info, ok, err = s.client.GetSheet(ctx, s.spreadsheetID, sheet)
		return err
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("sheet %q not found", sheet)
	}
	return info.LastRow, nil
}

func (s *sheetStorage) WriteRowsAt(ctx context.Context, sheet string, startRow int, rows []engine.Record) error {
	values := make([][]any, len(rows))
	for i, row := range rows {
		values[i] = []any(row)
	}
	return retryTransient(ctx, 8, 200*time.Millisecond, func() error {
		return s.client.WriteRows(ctx, s.spreadsheetID, sheet, startRow, values)
	})
}

func (s *sheetStorage) SetValidation(ctx context.Context, sheet string, row, column int, allowed []string, rejectInvalid, allowBlank bool) error {
	return retryTransient(ctx, 8, 200*time.Millisecond, func() error {
		return s.client.SetValidation(ctx, s.spreadsheetID, sheet, row, column, allowed, rejectInvalid, allowBlank)
	})
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *sheets.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == 429 || he.StatusCode/100 == 5
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout() || ne.Temporary()
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

func retryTransient(ctx context.Context, attempts int, initialSleep time.Duration, f func() error) error {
	sleep := initialSleep
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := f(); err == nil {
			return nil
		} else {
			lastErr = err
			if !isTransient(err) || i == attempts-1 {
				return err
			}
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		sleep *= 2
		if sleep > 2*time.Second {
			sleep = 2 * time.Second
		}
	}
	return lastErr
}
