package engine

import (
	"context"
	"fmt"
)

// appendBatch writes all rows for one destination in a single call,
// positioned after the destination's current last occupied row.
//
// An empty batch is a no-op. An absent destination is also a no-op: the
// orchestrator validates existence before collecting rows, so this guard
// only defends against the sheet disappearing mid-run.
func appendBatch(ctx context.Context, st Storage, sheet string, rows []Record) error {
	if len(rows) == 0 {
		return nil
	}
	ok, err := st.SheetExists(ctx, sheet)
	if err != nil {
		return fmt.Errorf("check destination %q: %w", sheet, err)
	}
	if !ok {
		return nil
	}
	last, err := st.LastRow(ctx, sheet)
	if err != nil {
		return fmt.Errorf("last row of %q: %w", sheet, err)
	}
	if err := st.WriteRowsAt(ctx, sheet, last+1, rows); err != nil {
		return fmt.Errorf("append %d rows to %q: %w", len(rows), sheet, err)
	}
	return nil
}
