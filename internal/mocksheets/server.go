// Package mocksheets implements a minimal in-memory sheets gateway for
// tests and local harness runs.
package mocksheets

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Write records one bulk row write into a sheet.
type Write struct {
	Sheet    string
	StartRow int
	Values   [][]any
}

// Validation records one data-validation assignment.
type Validation struct {
	Sheet         string
	Row           int
	Column        int
	AllowedValues []string
	RejectInvalid bool
	AllowBlank    bool
}

// Server implements the sheets gateway API surface over in-memory grids.
type Server struct {
	mu          sync.Mutex
	sheets      map[string][][]any
	calls       []Call
	writes      []Write
	validations []Validation

	expectedAuthorization string
}

// New constructs a new mock server with no sheets.
func New() *Server {
	return &Server{sheets: make(map[string][][]any)}
}

// RequireBearerToken enforces that requests include an Authorization header
// matching the token. If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// Seed creates or replaces a sheet with the given rows.
func (s *Server) Seed(sheet string, rows [][]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grid := make([][]any, len(rows))
	for i, row := range rows {
		grid[i] = append([]any(nil), row...)
	}
	s.sheets[sheet] = grid
}

// SeedCSV creates or replaces a sheet from CSV content; every cell becomes
// a string, matching how the gateway round-trips text cells.
func (s *Server) SeedCSV(sheet string, r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return fmt.Errorf("parse csv for sheet %q: %w", sheet, err)
	}
	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(rec))
		for j, cell := range rec {
			row[j] = cell
		}
		rows[i] = row
	}
	s.Seed(sheet, rows)
	return nil
}

// Rows returns a snapshot of one sheet's grid, or nil if absent.
func (s *Server) Rows(sheet string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	grid, ok := s.sheets[sheet]
	if !ok {
		return nil
	}
	out := make([][]any, len(grid))
	for i, row := range grid {
		out[i] = append([]any(nil), row...)
	}
	return out
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Writes returns a snapshot of bulk writes made to the server.
func (s *Server) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// Validations returns a snapshot of validation assignments.
func (s *Server) Validations() []Validation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Validation, len(s.validations))
	copy(out, s.validations)
	return out
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/spreadsheets/", s.handleSpreadsheets)
	return mux
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid bearer token")
		return false
	}
	return true
}

func (s *Server) handleSpreadsheets(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}

	// /api/v1/spreadsheets/{sid}/sheets/{name}
	// /api/v1/spreadsheets/{sid}/sheets/{name}/header
	// /api/v1/spreadsheets/{sid}/sheets/{name}/values
	// /api/v1/spreadsheets/{sid}/sheets/{name}/values:write
	// /api/v1/spreadsheets/{sid}/sheets/{name}/validation
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/spreadsheets/")
	parts := strings.Split(rest, "/")
	if len(parts) < 3 || parts[1] != "sheets" || parts[0] == "" || parts[2] == "" {
		http.NotFound(w, r)
		return
	}
	sheet := parts[2]

	switch {
	case len(parts) == 3:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "")
			return
		}
		s.serveSheetInfo(w, sheet)
	case len(parts) == 4 && parts[3] == "header":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "")
			return
		}
		s.serveHeader(w, sheet)
	case len(parts) == 4 && parts[3] == "values":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "")
			return
		}
		s.serveValues(w, sheet)
	case len(parts) == 4 && parts[3] == "values:write":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "")
			return
		}
		s.handleWrite(w, r, sheet)
	case len(parts) == 4 && parts[3] == "validation":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "")
			return
		}
		s.handleValidation(w, r, sheet)
	default:
		http.NotFound(w, r)
	}
}

type sheetInfoResponse struct {
	Title   string `json:"title"`
	LastRow int    `json:"lastRow"`
}

func (s *Server) serveSheetInfo(w http.ResponseWriter, sheet string) {
	s.mu.Lock()
	grid, ok := s.sheets[sheet]
	last := len(grid)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "SHEET_NOT_FOUND", fmt.Sprintf("sheet %q not found", sheet))
		return
	}
	writeJSON(w, sheetInfoResponse{Title: sheet, LastRow: last})
}

func (s *Server) serveHeader(w http.ResponseWriter, sheet string) {
	s.mu.Lock()
	grid, ok := s.sheets[sheet]
	var header []string
	if ok && len(grid) > 0 {
		header = make([]string, len(grid[0]))
		for i, cell := range grid[0] {
			if v, isStr := cell.(string); isStr {
				header[i] = v
			} else {
				header[i] = fmt.Sprint(cell)
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "SHEET_NOT_FOUND", fmt.Sprintf("sheet %q not found", sheet))
		return
	}
	writeJSON(w, map[string]any{"values": header})
}

func (s *Server) serveValues(w http.ResponseWriter, sheet string) {
	s.mu.Lock()
	grid, ok := s.sheets[sheet]
	var out [][]any
	if ok {
		out = make([][]any, len(grid))
		for i, row := range grid {
			out[i] = append([]any(nil), row...)
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "SHEET_NOT_FOUND", fmt.Sprintf("sheet %q not found", sheet))
		return
	}
	if out == nil {
		out = [][]any{}
	}
	writeJSON(w, map[string]any{"values": out})
}

type writeRequest struct {
	StartRow int     `json:"startRow"`
	Values   [][]any `json:"values"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, sheet string) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "parse write request")
		return
	}
	if req.StartRow < 1 {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "startRow must be >= 1")
		return
	}

	s.mu.Lock()
	grid, ok := s.sheets[sheet]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "SHEET_NOT_FOUND", fmt.Sprintf("sheet %q not found", sheet))
		return
	}
	// Grow the grid so the write lands at its absolute position.
	for len(grid) < req.StartRow-1 {
		grid = append(grid, []any{})
	}
	for i, row := range req.Values {
		pos := req.StartRow - 1 + i
		cp := append([]any(nil), row...)
		if pos < len(grid) {
			grid[pos] = cp
		} else {
			grid = append(grid, cp)
		}
	}
	s.sheets[sheet] = grid
	s.writes = append(s.writes, Write{Sheet: sheet, StartRow: req.StartRow, Values: req.Values})
	s.mu.Unlock()

	writeJSON(w, map[string]any{"updatedRows": len(req.Values)})
}

type validationRequest struct {
	Row           int      `json:"row"`
	Column        int      `json:"column"`
	AllowedValues []string `json:"allowedValues"`
	RejectInvalid bool     `json:"rejectInvalid"`
	AllowBlank    bool     `json:"allowBlank"`
}

func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request, sheet string) {
	var req validationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "parse validation request")
		return
	}
	if req.Row < 1 || req.Column < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "row must be >= 1 and column >= 0")
		return
	}

	s.mu.Lock()
	_, ok := s.sheets[sheet]
	if ok {
		s.validations = append(s.validations, Validation{
			Sheet:         sheet,
			Row:           req.Row,
			Column:        req.Column,
			AllowedValues: append([]string(nil), req.AllowedValues...),
			RejectInvalid: req.RejectInvalid,
			AllowBlank:    req.AllowBlank,
		})
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "SHEET_NOT_FOUND", fmt.Sprintf("sheet %q not found", sheet))
		return
	}

	writeJSON(w, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
