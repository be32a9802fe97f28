package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvisd/campus-router/internal/mocksheets"
)

func main() {
	addr := defaultString("MOCK_SHEETS_ADDR", ":8080")
	seedDir := defaultString("MOCK_SHEETS_SEED_DIR", "")

	fs := flag.NewFlagSet("mock-sheets", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&seedDir, "seed-dir", seedDir, "Directory of CSV files seeded as sheets named <title>.csv")
	_ = fs.Parse(os.Args[1:])

	srv := mocksheets.New()
	if seedDir != "" {
		if err := seedFromDir(srv, seedDir); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
			os.Exit(1)
		}
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-sheets listening on %s (seed=%s)\n", addr, seedDir)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func seedFromDir(srv *mocksheets.Server, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		title := strings.TrimSuffix(e.Name(), ".csv")
		seedErr := srv.SeedCSV(title, f)
		_ = f.Close()
		if seedErr != nil {
			return seedErr
		}
	}
	return nil
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
