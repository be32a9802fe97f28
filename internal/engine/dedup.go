package engine

import (
	"context"
	"fmt"
)

// Index is the replay-mode dedup set: canonical timestamp keys of every row
// already present in any destination.
type Index map[string]struct{}

// BuildIndex reads all rows of every destination sheet and collects their
// timestamp keys into one shared set. A key seen in any destination counts
// as seen everywhere.
func BuildIndex(ctx context.Context, st Storage, sheets []string, timestampCol int) (Index, error) {
	idx := make(Index)
	for _, sheet := range sheets {
		rows, err := st.AllRows(ctx, sheet)
		if err != nil {
			return nil, fmt.Errorf("read destination %q: %w", sheet, err)
		}
		for _, row := range rows {
			if key := CanonicalKey(cellAt(row, timestampCol)); key != "" {
				idx[key] = struct{}{}
			}
		}
	}
	return idx, nil
}

func (x Index) Contains(key string) bool {
	_, ok := x[key]
	return ok
}

func (x Index) Add(key string) {
	if key != "" {
		x[key] = struct{}{}
	}
}
