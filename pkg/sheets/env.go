package sheets

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Env is the runtime configuration needed to reach the sheets gateway.
type Env struct {
	// GatewayURL is the discovered gateway base URL.
	GatewayURL string
	// DefaultCAPath is the path to a PEM bundle that should be trusted for
	// TLS. The district proxy provides it via DEFAULT_CA_PATH.
	DefaultCAPath string
	Token         string
	SpreadsheetID string
}

// LoadEnv reads the required gateway env vars.
//
// Required:
//   - SHEETS_TOKEN (file path)
//   - SPREADSHEET_ID
//   - SHEETS_SERVICE_DISCOVERY (file path) or SHEETS_URL
func LoadEnv() (Env, error) {
	gatewayURL, err := loadGatewayFromEnv()
	if err != nil {
		return Env{}, err
	}
	defaultCAPath := strings.TrimSpace(os.Getenv("DEFAULT_CA_PATH"))

	token, err := readFileEnv("SHEETS_TOKEN")
	if err != nil {
		return Env{}, err
	}

	spreadsheetID := strings.TrimSpace(os.Getenv("SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return Env{}, fmt.Errorf("SPREADSHEET_ID is required")
	}

	return Env{
		GatewayURL:    gatewayURL,
		DefaultCAPath: defaultCAPath,
		Token:         token,
		SpreadsheetID: spreadsheetID,
	}, nil
}

// serviceDiscovery mirrors the district platform format, where each service
// id maps to a single-element list containing the base URL.
//
// Example (YAML):
//
//	sheets_gateway:
//	  - https://sheets.district.example/api
type serviceDiscovery map[string][]string

func loadGatewayFromEnv() (string, error) {
	if p := strings.TrimSpace(os.Getenv("SHEETS_SERVICE_DISCOVERY")); p != "" {
		return loadGatewayFromDiscoveryFile(p)
	}

	// Back-compat: allow explicit SHEETS_URL when service discovery is not present.
	sheetsURL := strings.TrimSpace(os.Getenv("SHEETS_URL"))
	if sheetsURL == "" {
		return "", fmt.Errorf("SHEETS_SERVICE_DISCOVERY or SHEETS_URL is required")
	}
	if !strings.Contains(sheetsURL, "://") {
		sheetsURL = "https://" + sheetsURL
	}
	sheetsURL = strings.TrimRight(sheetsURL, "/")
	return sheetsURL + "/api", nil
}

func loadGatewayFromDiscoveryFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read SHEETS_SERVICE_DISCOVERY file: %w", err)
	}

	var raw serviceDiscovery
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return "", fmt.Errorf("parse SHEETS_SERVICE_DISCOVERY YAML: %w", err)
	}

	vals, ok := raw["sheets_gateway"]
	if !ok || len(vals) == 0 {
		return "", fmt.Errorf("SHEETS_SERVICE_DISCOVERY missing sheets_gateway")
	}
	v := strings.TrimSpace(vals[0])
	if v == "" {
		return "", fmt.Errorf("SHEETS_SERVICE_DISCOVERY missing sheets_gateway")
	}
	return v, nil
}

func readFileEnv(varName string) (string, error) {
	path := strings.TrimSpace(os.Getenv(varName))
	if path == "" {
		return "", fmt.Errorf("%s is required", varName)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s file: %w", varName, err)
	}
	return strings.TrimSpace(string(b)), nil
}
