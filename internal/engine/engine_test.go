package engine_test

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/dvisd/campus-router/internal/campus"
	"github.com/dvisd/campus-router/internal/engine"
)

type write struct {
	Sheet    string
	StartRow int
	Rows     []engine.Record
}

type validation struct {
	Sheet         string
	Row           int
	Column        int
	Allowed       []string
	RejectInvalid bool
	AllowBlank    bool
}

// fakeStore is an in-memory Storage with recorded writes and validations.
type fakeStore struct {
	sheets      map[string][]engine.Record
	writes      []write
	validations []validation
}

func newFakeStore() *fakeStore {
	return &fakeStore{sheets: make(map[string][]engine.Record)}
}

func (f *fakeStore) seed(sheet string, rows ...engine.Record) {
	f.sheets[sheet] = append(f.sheets[sheet], rows...)
}

func (f *fakeStore) HeaderRow(_ context.Context, sheet string) ([]string, error) {
	rows, ok := f.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]string, len(rows[0]))
	for i, cell := range rows[0] {
		if s, ok := cell.(string); ok {
			out[i] = s
		}
	}
	return out, nil
}

func (f *fakeStore) AllRows(_ context.Context, sheet string) ([]engine.Record, error) {
	rows, ok := f.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}
	return rows, nil
}

func (f *fakeStore) SheetExists(_ context.Context, sheet string) (bool, error) {
	_, ok := f.sheets[sheet]
	return ok, nil
}

func (f *fakeStore) LastRow(_ context.Context, sheet string) (int, error) {
	return len(f.sheets[sheet]), nil
}

func (f *fakeStore) WriteRowsAt(_ context.Context, sheet string, startRow int, rows []engine.Record) error {
	if _, ok := f.sheets[sheet]; !ok {
		return fmt.Errorf("sheet %q not found", sheet)
	}
	if want := len(f.sheets[sheet]) + 1; startRow != want {
		return fmt.Errorf("write to %q at row %d, want %d", sheet, startRow, want)
	}
	f.sheets[sheet] = append(f.sheets[sheet], rows...)
	f.writes = append(f.writes, write{Sheet: sheet, StartRow: startRow, Rows: rows})
	return nil
}

func (f *fakeStore) SetValidation(_ context.Context, sheet string, row, column int, allowed []string, rejectInvalid, allowBlank bool) error {
	if _, ok := f.sheets[sheet]; !ok {
		return fmt.Errorf("sheet %q not found", sheet)
	}
	f.validations = append(f.validations, validation{
		Sheet:         sheet,
		Row:           row,
		Column:        column,
		Allowed:       allowed,
		RejectInvalid: rejectInvalid,
		AllowBlank:    allowBlank,
	})
	return nil
}

func (f *fakeStore) writesTo(sheet string) []write {
	var out []write
	for _, w := range f.writes {
		if w.Sheet == sheet {
			out = append(out, w)
		}
	}
	return out
}

var testHeader = engine.Record{"Timestamp", "Email", "Campus", "Grade"}

func newTestEngine(st engine.Storage) *engine.Engine {
	return engine.New(st, campus.Default(), engine.Config{})
}

func seedDestinations(st *fakeStore) {
	for _, dest := range []string{"ES", "MS", "HS"} {
		st.seed(dest, testHeader)
	}
}

func row(ts, email, name string) engine.Record {
	return engine.Record{ts, email, name, "5"}
}

func TestRunDispatchesOnDeliveredRecord(t *testing.T) {
	st := newFakeStore()
	st.seed("Form Responses 1", testHeader)
	seedDestinations(st)
	eng := newTestEngine(st)

	rep, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Mode != engine.ModeReplay {
		t.Fatalf("nil record mode = %q, want replay", rep.Mode)
	}

	rep, err = eng.Run(context.Background(), row("2024-01-02 08:00:00", "a@x", "Allen"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Mode != engine.ModeSubmission {
		t.Fatalf("delivered record mode = %q, want submission", rep.Mode)
	}
}

func TestRunSubmission(t *testing.T) {
	t.Run("routes matched record", func(t *testing.T) {
		st := newFakeStore()
		st.seed("Form Responses 1", testHeader, row("2024-01-02 08:00:00", "a@x", "Bernal"))
		seedDestinations(st)

		rep, err := newTestEngine(st).RunSubmission(context.Background(), row("2024-01-02 08:00:00", "a@x", "Bernal"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rep.NewRows != 1 || rep.Routed[campus.Middle] != 1 {
			t.Fatalf("unexpected report: %+v", rep)
		}
		ws := st.writesTo("MS")
		if len(ws) != 1 || len(ws[0].Rows) != 1 {
			t.Fatalf("unexpected MS writes: %#v", ws)
		}
		if ws[0].StartRow != 2 {
			t.Fatalf("MS write start row = %d, want 2", ws[0].StartRow)
		}
		if len(st.validations) != 1 || st.validations[0].Row != 2 || st.validations[0].Column != 10 {
			t.Fatalf("unexpected validations: %#v", st.validations)
		}
	})

	t.Run("unmatched record still annotated", func(t *testing.T) {
		st := newFakeStore()
		st.seed("Form Responses 1", testHeader, row("2024-01-02 08:00:00", "a@x", "Mars"))
		seedDestinations(st)

		rep, err := newTestEngine(st).RunSubmission(context.Background(), row("2024-01-02 08:00:00", "a@x", "Mars"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rep.NewRows != 1 || rep.Unrouted != 1 {
			t.Fatalf("unexpected report: %+v", rep)
		}
		if len(st.writes) != 0 {
			t.Fatalf("expected no writes, got %#v", st.writes)
		}
		if len(st.validations) != 1 {
			t.Fatalf("expected 1 validation, got %#v", st.validations)
		}
		v := st.validations[0]
		if !reflect.DeepEqual(v.Allowed, []string{"Approved", "Denied", "Processed"}) || v.RejectInvalid || !v.AllowBlank {
			t.Fatalf("unexpected validation settings: %#v", v)
		}
	})

	t.Run("missing destination stops silently", func(t *testing.T) {
		st := newFakeStore()
		st.seed("Form Responses 1", testHeader)
		st.seed("ES", testHeader)
		st.seed("MS", testHeader)
		// HS missing.

		rep, err := newTestEngine(st).RunSubmission(context.Background(), row("t", "a@x", "Allen"))
		if err != nil {
			t.Fatalf("expected silent stop, got error: %v", err)
		}
		if rep.Stopped == "" || rep.NewRows != 0 {
			t.Fatalf("unexpected report: %+v", rep)
		}
		if len(st.writes) != 0 || len(st.validations) != 0 {
			t.Fatalf("expected no side effects, writes=%#v validations=%#v", st.writes, st.validations)
		}
	})
}

func TestRunReplayEndToEnd(t *testing.T) {
	st := newFakeStore()
	st.seed("Form Responses 1",
		testHeader,
		row("2024-01-02 08:00:00", "a@x", "Allen"),
		row("2024-01-02 08:05:00", "b@x", "Bernal"),
		row("2024-01-02 08:10:00", "c@x", "Mars"),
	)
	seedDestinations(st)

	rep, err := newTestEngine(st).RunReplay(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.NewRows != 3 || rep.Unrouted != 1 || rep.Duplicates != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Routed[campus.Elementary] != 1 || rep.Routed[campus.Middle] != 1 || rep.Routed[campus.High] != 0 {
		t.Fatalf("unexpected routed counts: %+v", rep.Routed)
	}

	es := st.writesTo("ES")
	if len(es) != 1 || len(es[0].Rows) != 1 || es[0].Rows[0][2] != "Allen" {
		t.Fatalf("unexpected ES writes: %#v", es)
	}
	ms := st.writesTo("MS")
	if len(ms) != 1 || len(ms[0].Rows) != 1 || ms[0].Rows[0][2] != "Bernal" {
		t.Fatalf("unexpected MS writes: %#v", ms)
	}
	if hs := st.writesTo("HS"); len(hs) != 0 {
		t.Fatalf("expected no HS writes, got %#v", hs)
	}

	if len(st.validations) != 3 {
		t.Fatalf("expected 3 validations, got %#v", st.validations)
	}
	for i, wantRow := range []int{2, 3, 4} {
		if v := st.validations[i]; v.Sheet != "Form Responses 1" || v.Row != wantRow {
			t.Fatalf("validation[%d] = %#v, want source row %d", i, v, wantRow)
		}
	}
}

func TestRunReplayIdempotence(t *testing.T) {
	st := newFakeStore()
	st.seed("Form Responses 1",
		testHeader,
		row("2024-01-02 08:00:00", "a@x", "Allen"),
		row("2024-01-02 08:05:00", "b@x", "Summit"),
	)
	seedDestinations(st)
	eng := newTestEngine(st)

	first, err := eng.RunReplay(context.Background())
	if err != nil {
		t.Fatalf("first replay: %v", err)
	}
	if first.NewRows != 2 {
		t.Fatalf("first replay processed %d rows, want 2", first.NewRows)
	}
	esLen, hsLen := len(st.sheets["ES"]), len(st.sheets["HS"])

	second, err := eng.RunReplay(context.Background())
	if err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if second.NewRows != 0 || second.Duplicates != 2 {
		t.Fatalf("second replay report: %+v", second)
	}
	if len(st.sheets["ES"]) != esLen || len(st.sheets["HS"]) != hsLen {
		t.Fatalf("destination row counts changed on second replay")
	}
}

func TestRunReplayReexaminesUnroutedRows(t *testing.T) {
	// An unrouted row never reaches a destination, so no later replay can
	// find it in the dedup index. Re-runs must re-count it without touching
	// any destination.
	st := newFakeStore()
	st.seed("Form Responses 1",
		testHeader,
		row("2024-01-02 08:00:00", "a@x", "Allen"),
		row("2024-01-02 08:05:00", "b@x", "Summit"),
		row("2024-01-02 08:10:00", "c@x", "Mars"),
	)
	seedDestinations(st)
	eng := newTestEngine(st)

	first, err := eng.RunReplay(context.Background())
	if err != nil {
		t.Fatalf("first replay: %v", err)
	}
	if first.NewRows != 3 || first.Unrouted != 1 {
		t.Fatalf("first replay report: %+v", first)
	}
	esLen, hsLen := len(st.sheets["ES"]), len(st.sheets["HS"])
	writeCount := len(st.writes)
	validationCount := len(st.validations)

	second, err := eng.RunReplay(context.Background())
	if err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if second.NewRows != 1 || second.Unrouted != 1 || second.Duplicates != 2 {
		t.Fatalf("second replay report: %+v", second)
	}
	if len(st.sheets["ES"]) != esLen || len(st.sheets["HS"]) != hsLen {
		t.Fatalf("destination row counts changed on second replay")
	}
	if len(st.writes) != writeCount {
		t.Fatalf("second replay issued destination writes: %#v", st.writes[writeCount:])
	}

	// Only the unrouted row is re-annotated, at its original position, with
	// the same settings as before.
	got := st.validations[validationCount:]
	if len(got) != 1 || got[0].Sheet != "Form Responses 1" || got[0].Row != 4 {
		t.Fatalf("second replay validations: %#v", got)
	}
}

func TestRunReplayPreservesOrderAndBatchesOnce(t *testing.T) {
	st := newFakeStore()
	st.seed("Form Responses 1",
		testHeader,
		row("t1", "a@x", "Allen"),
		row("t2", "b@x", "Bernal"),
		row("t3", "c@x", "Brookside"),
		row("t4", "d@x", "Carver"),
		row("t5", "e@x", "Cedar Park"),
	)
	seedDestinations(st)

	rep, err := newTestEngine(st).RunReplay(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.NewRows != 5 {
		t.Fatalf("processed %d rows, want 5", rep.NewRows)
	}

	es := st.writesTo("ES")
	if len(es) != 1 {
		t.Fatalf("expected exactly one ES write, got %d", len(es))
	}
	var got []string
	for _, r := range es[0].Rows {
		got = append(got, r[2].(string))
	}
	want := []string{"Allen", "Brookside", "Cedar Park"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ES rows out of order: got %v, want %v", got, want)
	}

	if ms := st.writesTo("MS"); len(ms) != 1 || len(ms[0].Rows) != 2 {
		t.Fatalf("unexpected MS writes: %#v", ms)
	}
}

func TestRunReplayHeaderFallback(t *testing.T) {
	// Header omits both labels; classification must read index 2 and the
	// dedup key index 0.
	st := newFakeStore()
	st.seed("Form Responses 1",
		engine.Record{"A", "B", "C", "D"},
		row("t1", "a@x", "Allen"),
	)
	seedDestinations(st)

	rep, err := newTestEngine(st).RunReplay(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Routed[campus.Elementary] != 1 {
		t.Fatalf("fallback column not used: %+v", rep)
	}
}

func TestRunReplayDuplicateFiltering(t *testing.T) {
	st := newFakeStore()
	st.seed("Form Responses 1",
		testHeader,
		row("2024-01-02 08:00:00", "a@x", "Allen"),
		row("2024-01-02 08:05:00", "b@x", "Bernal"),
	)
	seedDestinations(st)
	// Allen's row is already routed.
	st.seed("ES", row("2024-01-02 08:00:00", "a@x", "Allen"))

	rep, err := newTestEngine(st).RunReplay(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.NewRows != 1 || rep.Duplicates != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if es := st.writesTo("ES"); len(es) != 0 {
		t.Fatalf("duplicate was re-appended: %#v", es)
	}
	if ms := st.writesTo("MS"); len(ms) != 1 || len(ms[0].Rows) != 1 {
		t.Fatalf("non-duplicate not routed: %#v", ms)
	}
	// Only the new row gets a status annotation, at its original position.
	if len(st.validations) != 1 || st.validations[0].Row != 3 {
		t.Fatalf("unexpected validations: %#v", st.validations)
	}
}

func TestRunReplayEmptySource(t *testing.T) {
	st := newFakeStore()
	st.seed("Form Responses 1", testHeader)
	seedDestinations(st)

	rep, err := newTestEngine(st).RunReplay(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Stopped == "" || rep.NewRows != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(st.writes) != 0 || len(st.validations) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestCanonicalKey(t *testing.T) {
	cases := []struct {
		name string
		cell any
		want string
	}{
		{"string trimmed", "  2024-01-02 08:00:00 ", "2024-01-02 08:00:00"},
		{"float serial", 45293.5, "45293.5"},
		{"whole float", float64(45293), "45293"},
		{"int", 7, "7"},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := engine.CanonicalKey(tc.cell)
			if got != tc.want {
				t.Fatalf("CanonicalKey(%v) = %q, want %q", tc.cell, got, tc.want)
			}
			// Stable under repeated conversion of the canonical form.
			if again := engine.CanonicalKey(got); again != tc.want {
				t.Fatalf("CanonicalKey not stable: %q -> %q", tc.want, again)
			}
		})
	}
}
