package mocksheets_test

import (
	"strings"
	"testing"

	"github.com/dvisd/campus-router/internal/mocksheets"
)

func TestSeedCSV(t *testing.T) {
	srv := mocksheets.New()
	csv := "Timestamp,Email,Campus\n2024-01-02 08:00:00,a@x,Allen\n"
	if err := srv.SeedCSV("Form Responses 1", strings.NewReader(csv)); err != nil {
		t.Fatalf("SeedCSV: %v", err)
	}

	rows := srv.Rows("Form Responses 1")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %#v", rows)
	}
	if rows[0][0] != "Timestamp" || rows[1][2] != "Allen" {
		t.Fatalf("unexpected grid: %#v", rows)
	}
}

func TestRowsSnapshotIsCopy(t *testing.T) {
	srv := mocksheets.New()
	srv.Seed("ES", [][]any{{"Timestamp"}, {"t1"}})

	snap := srv.Rows("ES")
	snap[1][0] = "mutated"

	if got := srv.Rows("ES"); got[1][0] != "t1" {
		t.Fatalf("snapshot mutation leaked into server state: %#v", got)
	}
}

func TestRowsMissingSheet(t *testing.T) {
	srv := mocksheets.New()
	if got := srv.Rows("Nope"); got != nil {
		t.Fatalf("expected nil for missing sheet, got %#v", got)
	}
}
