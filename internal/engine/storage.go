// Package engine routes form-submission rows to per-level destination
// sheets, with idempotent full-replay semantics and batched writes.
package engine

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Record is one sheet row. Cells keep whatever shape the storage service
// returned them in; routed copies are written back cell-for-cell.
type Record []any

// Storage is the tabular service surface the engine needs.
//
// Row positions are 1-based sheet positions; column indices are 0-based
// offsets into a Record.
type Storage interface {
	// HeaderRow returns the first row of the sheet as field labels.
	HeaderRow(ctx context.Context, sheet string) ([]string, error)
	// AllRows returns every occupied row of the sheet, header included.
	AllRows(ctx context.Context, sheet string) ([]Record, error)
	// SheetExists reports whether the sheet is present.
	SheetExists(ctx context.Context, sheet string) (bool, error)
	// LastRow returns the last occupied row position, 0 for an empty sheet.
	LastRow(ctx context.Context, sheet string) (int, error)
	// WriteRowsAt writes rows starting at the given row position in one call.
	WriteRowsAt(ctx context.Context, sheet string, startRow int, rows []Record) error
	// SetValidation attaches a constrained-value dropdown to one cell.
	SetValidation(ctx context.Context, sheet string, row, column int, allowed []string, rejectInvalid, allowBlank bool) error
}

// CanonicalKey converts a timestamp cell to its dedup key.
//
// The same underlying value must always produce the same key, whether it
// was read from the source sheet or back out of a destination.
func CanonicalKey(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// headerIndex resolves a column by header label, falling back to a static
// index when the label is absent. A missing label is never an error.
func headerIndex(header []string, label string, fallback int) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), label) {
			return i
		}
	}
	return fallback
}

func cellAt(rec Record, idx int) any {
	if idx < 0 || idx >= len(rec) {
		return nil
	}
	return rec[idx]
}
