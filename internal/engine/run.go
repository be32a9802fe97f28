package engine

import (
	"context"
	"fmt"

	"github.com/dvisd/campus-router/internal/campus"
)

type Mode string

const (
	ModeSubmission Mode = "submission"
	ModeReplay     Mode = "replay"
)

// Report summarizes one engine invocation. Early stops (missing sheets,
// empty source) are recorded in Stopped rather than returned as errors, so
// the trigger pipeline never breaks on them.
type Report struct {
	Mode Mode

	// NewRows counts newly processed rows, routed and unrouted alike.
	// Duplicates are excluded.
	NewRows    int
	Routed     map[campus.Type]int
	Unrouted   int
	Duplicates int

	Stopped string
}

// Engine composes the router, dedup index, and batch writer over a Storage.
type Engine struct {
	st  Storage
	reg *campus.Registry
	cfg Config
}

func New(st Storage, reg *campus.Registry, cfg Config) *Engine {
	return &Engine{st: st, reg: reg, cfg: cfg.withDefaults()}
}

// Run dispatches on the delivered record: a present record runs the
// single-submission path, an absent one runs the full replay. A malformed
// trigger therefore degrades to replay rather than erroring.
func (e *Engine) Run(ctx context.Context, rec Record) (Report, error) {
	if len(rec) == 0 {
		return e.RunReplay(ctx)
	}
	return e.RunSubmission(ctx, rec)
}

// RunSubmission routes one freshly delivered row. It touches only the new
// row plus fixed-size lookups, so it completes in bounded time regardless
// of how much history the sheets hold.
func (e *Engine) RunSubmission(ctx context.Context, rec Record) (Report, error) {
	rep := Report{Mode: ModeSubmission, Routed: make(map[campus.Type]int)}

	missing, err := e.firstMissingSheet(ctx)
	if err != nil {
		return rep, err
	}
	if missing != "" {
		rep.Stopped = fmt.Sprintf("sheet %q is missing", missing)
		return rep, nil
	}

	header, err := e.st.HeaderRow(ctx, e.cfg.SourceSheet)
	if err != nil {
		return rep, fmt.Errorf("read source header: %w", err)
	}
	campusCol := headerIndex(header, e.cfg.CampusHeader, e.cfg.CampusFallbackCol)
	level := e.classify(rec, campusCol)

	// Every new submission gets the status dropdown, matched or not.
	last, err := e.st.LastRow(ctx, e.cfg.SourceSheet)
	if err != nil {
		return rep, fmt.Errorf("last source row: %w", err)
	}
	if err := e.annotate(ctx, last); err != nil {
		return rep, err
	}
	rep.NewRows = 1

	if level == campus.Unmatched {
		rep.Unrouted = 1
		return rep, nil
	}
	if err := appendBatch(ctx, e.st, e.cfg.Destinations[level], []Record{rec}); err != nil {
		return rep, err
	}
	rep.Routed[level] = 1
	return rep, nil
}

// RunReplay re-scans the whole source sheet and routes every row that is
// not already present in a destination. Re-running it immediately appends
// nothing: the rows it just routed are found in the dedup index. Unrouted
// rows leave no trace in any destination, so each replay re-examines them
// and re-attaches the same status annotation.
func (e *Engine) RunReplay(ctx context.Context) (Report, error) {
	rep := Report{Mode: ModeReplay, Routed: make(map[campus.Type]int)}

	missing, err := e.firstMissingSheet(ctx)
	if err != nil {
		return rep, err
	}
	if missing != "" {
		rep.Stopped = fmt.Sprintf("sheet %q is missing", missing)
		return rep, nil
	}

	rows, err := e.st.AllRows(ctx, e.cfg.SourceSheet)
	if err != nil {
		return rep, fmt.Errorf("read source rows: %w", err)
	}
	if len(rows) < 2 {
		rep.Stopped = "source has no data rows"
		return rep, nil
	}

	labels := headerLabels(rows[0])
	campusCol := headerIndex(labels, e.cfg.CampusHeader, e.cfg.CampusFallbackCol)
	tsCol := headerIndex(labels, e.cfg.TimestampHeader, e.cfg.TimestampFallbackCol)

	idx, err := BuildIndex(ctx, e.st, e.destinationSheets(), tsCol)
	if err != nil {
		return rep, err
	}

	pending := make(map[campus.Type][]Record)
	var newRows []int
	for i, row := range rows[1:] {
		pos := i + 2 // 1-based sheet position; rows[0] is row 1

		key := CanonicalKey(cellAt(row, tsCol))
		if key != "" && idx.Contains(key) {
			rep.Duplicates++
			continue
		}
		// Two source rows sharing a timestamp dedupe against each other
		// within the run as well; the second one is dropped.
		idx.Add(key)

		if level := e.classify(row, campusCol); level == campus.Unmatched {
			rep.Unrouted++
		} else {
			pending[level] = append(pending[level], row)
		}
		newRows = append(newRows, pos)
	}

	for _, level := range e.cfg.destinationOrder() {
		if err := appendBatch(ctx, e.st, e.cfg.Destinations[level], pending[level]); err != nil {
			return rep, err
		}
		rep.Routed[level] = len(pending[level])
	}

	for _, pos := range newRows {
		if err := e.annotate(ctx, pos); err != nil {
			return rep, err
		}
	}
	rep.NewRows = len(newRows)
	return rep, nil
}

func (e *Engine) classify(rec Record, campusCol int) campus.Type {
	name, _ := cellAt(rec, campusCol).(string)
	return e.reg.Classify(name)
}

func (e *Engine) annotate(ctx context.Context, row int) error {
	err := e.st.SetValidation(ctx, e.cfg.SourceSheet, row, e.cfg.StatusColumn, e.cfg.StatusValues, false, true)
	if err != nil {
		return fmt.Errorf("set status validation on row %d: %w", row, err)
	}
	return nil
}

// firstMissingSheet checks the source and every destination, returning the
// first absent sheet name, or "" when all are present.
func (e *Engine) firstMissingSheet(ctx context.Context) (string, error) {
	sheets := append([]string{e.cfg.SourceSheet}, e.destinationSheets()...)
	for _, sheet := range sheets {
		ok, err := e.st.SheetExists(ctx, sheet)
		if err != nil {
			return "", fmt.Errorf("check sheet %q: %w", sheet, err)
		}
		if !ok {
			return sheet, nil
		}
	}
	return "", nil
}

func (e *Engine) destinationSheets() []string {
	order := e.cfg.destinationOrder()
	out := make([]string, 0, len(order))
	for _, level := range order {
		out = append(out, e.cfg.Destinations[level])
	}
	return out
}

func headerLabels(header Record) []string {
	out := make([]string, len(header))
	for i, cell := range header {
		if s, ok := cell.(string); ok {
			out[i] = s
		}
	}
	return out
}
