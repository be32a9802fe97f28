package engine

import "github.com/dvisd/campus-router/internal/campus"

// Config is the fixed routing surface: sheet names, column labels with
// their static fallbacks, and the status dropdown.
type Config struct {
	// SourceSheet is the form-response sheet the trigger writes into.
	SourceSheet string

	// Destinations maps each level to its destination sheet. Destination
	// sheets pre-exist and share the source's column layout.
	Destinations map[campus.Type]string

	CampusHeader    string
	TimestampHeader string

	// Fallback column indices used when a header label is absent.
	CampusFallbackCol    int
	TimestampFallbackCol int

	// StatusColumn is the 0-based column the status dropdown attaches to.
	StatusColumn int
	StatusValues []string
}

func (c Config) withDefaults() Config {
	if c.SourceSheet == "" {
		c.SourceSheet = "Form Responses 1"
	}
	if len(c.Destinations) == 0 {
		c.Destinations = map[campus.Type]string{
			campus.Elementary: "ES",
			campus.Middle:     "MS",
			campus.High:       "HS",
		}
	}
	if c.CampusHeader == "" {
		c.CampusHeader = "Campus"
	}
	if c.TimestampHeader == "" {
		c.TimestampHeader = "Timestamp"
	}
	if c.CampusFallbackCol <= 0 {
		c.CampusFallbackCol = 2
	}
	if c.TimestampFallbackCol < 0 {
		c.TimestampFallbackCol = 0
	}
	if c.StatusColumn <= 0 {
		c.StatusColumn = 10
	}
	if len(c.StatusValues) == 0 {
		c.StatusValues = []string{"Approved", "Denied", "Processed"}
	}
	return c
}

// destinationOrder returns the configured levels in classification order so
// batch flushes stay deterministic.
func (c Config) destinationOrder() []campus.Type {
	out := make([]campus.Type, 0, len(c.Destinations))
	for _, level := range campus.Levels() {
		if _, ok := c.Destinations[level]; ok {
			out = append(out, level)
		}
	}
	return out
}
