// Package sheets is a minimal HTTP client for the district's spreadsheet
// gateway, covering just the endpoints the routing engine needs.
package sheets

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to the sheets gateway with a bearer token.
//
// Note: This is intentionally minimal to support the routing engine plus the
// local mock harness; it is not a general spreadsheet SDK.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// Options tunes client behavior.
type Options struct {
	// RateLimitRPS caps outgoing requests across all calls. The gateway
	// enforces per-minute quotas; staying under them client-side avoids
	// burning retries on 429s. Set to <=0 to disable.
	RateLimitRPS float64

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// Sheet describes one sheet of a spreadsheet.
type Sheet struct {
	Title   string `json:"title"`
	LastRow int    `json:"lastRow"`
}

// NewClient constructs a client for a gateway base URL.
//
// defaultCAPath is optional and, when provided, is used as the TLS trust
// store (the gateway sits behind the district proxy in production).
func NewClient(baseURL, token, defaultCAPath string, opts Options) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	hc, err := newHTTPClient(defaultCAPath, opts.Timeout)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(token),
		http:    hc,
		limiter: limiter,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("sheets gateway base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse sheets gateway base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("sheets gateway base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(defaultCAPath string, timeout time.Duration) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(defaultCAPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(defaultCAPath))
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// GetSheet returns sheet metadata. A 404 means the sheet does not exist and
// is reported as ok=false, not an error.
func (c *Client) GetSheet(ctx context.Context, spreadsheetID, sheet string) (Sheet, bool, error) {
	var out Sheet
	resp, body, err := c.do(ctx, http.MethodGet, c.sheetPath(spreadsheetID, sheet), nil)
	if err != nil {
		return out, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return out, false, nil
	}
	if resp.StatusCode/100 != 2 {
		return out, false, newHTTPError("getSheet", resp, body)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, false, fmt.Errorf("parse get sheet response: %w", err)
	}
	return out, true, nil
}

type valuesResponse struct {
	Values [][]any `json:"values"`
}

type headerResponse struct {
	Values []string `json:"values"`
}

// HeaderRow returns the sheet's first row as field labels.
func (c *Client) HeaderRow(ctx context.Context, spreadsheetID, sheet string) ([]string, error) {
	resp, body, err := c.do(ctx, http.MethodGet, c.sheetPath(spreadsheetID, sheet)+"/header", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError("headerRow", resp, body)
	}
	var out headerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse header response: %w", err)
	}
	return out.Values, nil
}

// Values returns every occupied row of the sheet, header included.
func (c *Client) Values(ctx context.Context, spreadsheetID, sheet string) ([][]any, error) {
	resp, body, err := c.do(ctx, http.MethodGet, c.sheetPath(spreadsheetID, sheet)+"/values", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError("values", resp, body)
	}
	var out valuesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse values response: %w", err)
	}
	return out.Values, nil
}

type writeRequest struct {
	StartRow int     `json:"startRow"`
	Values   [][]any `json:"values"`
}

// WriteRows writes rows starting at the 1-based startRow in one request.
func (c *Client) WriteRows(ctx context.Context, spreadsheetID, sheet string, startRow int, values [][]any) error {
	if len(values) == 0 {
		return nil
	}
	if startRow < 1 {
		return fmt.Errorf("start row must be >= 1 (got %d)", startRow)
	}
	b, err := json.Marshal(writeRequest{StartRow: startRow, Values: values})
	if err != nil {
		return err
	}
	resp, body, err := c.do(ctx, http.MethodPost, c.sheetPath(spreadsheetID, sheet)+"/values:write", b)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return newHTTPError("writeRows", resp, body)
	}
	return nil
}

type validationRequest struct {
	Row           int      `json:"row"`
	Column        int      `json:"column"`
	AllowedValues []string `json:"allowedValues"`
	RejectInvalid bool     `json:"rejectInvalid"`
	AllowBlank    bool     `json:"allowBlank"`
}

// SetValidation attaches a constrained-value dropdown to one cell. Row is
// 1-based, column is 0-based.
func (c *Client) SetValidation(ctx context.Context, spreadsheetID, sheet string, row, column int, allowed []string, rejectInvalid, allowBlank bool) error {
	if row < 1 {
		return fmt.Errorf("row must be >= 1 (got %d)", row)
	}
	if column < 0 {
		return fmt.Errorf("column must be >= 0 (got %d)", column)
	}
	b, err := json.Marshal(validationRequest{
		Row:           row,
		Column:        column,
		AllowedValues: allowed,
		RejectInvalid: rejectInvalid,
		AllowBlank:    allowBlank,
	})
	if err != nil {
		return err
	}
	resp, body, err := c.do(ctx, http.MethodPost, c.sheetPath(spreadsheetID, sheet)+"/validation", b)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return newHTTPError("setValidation", resp, body)
	}
	return nil
}

// sheetPath builds the unescaped request path; escaping happens when the
// URL is serialized. Sheet titles may contain spaces but never "/".
func (c *Client) sheetPath(spreadsheetID, sheet string) string {
	return fmt.Sprintf(
		"v1/spreadsheets/%s/sheets/%s",
		strings.TrimSpace(spreadsheetID),
		strings.TrimSpace(sheet),
	)
}

func (c *Client) do(ctx context.Context, method, relPath string, body []byte) (*http.Response, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}

	rel := &url.URL{Path: strings.TrimPrefix(relPath, "/")}
	u := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, b, nil
}
