// Package campus classifies campus names into school levels.
//
// The rosters are static configuration: three base name lists plus an
// exception table for campuses whose printed name suggests the wrong level.
package campus

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type is the school level a campus routes to.
type Type int

const (
	Unmatched Type = iota
	Elementary
	Middle
	High
)

func (t Type) String() string {
	switch t {
	case Elementary:
		return "elementary"
	case Middle:
		return "middle"
	case High:
		return "high"
	default:
		return "unmatched"
	}
}

// Levels lists the routable levels in classification order.
func Levels() []Type {
	return []Type{Elementary, Middle, High}
}

//go:embed rosters.yaml
var defaultRosters []byte

type rosterDoc struct {
	Elementary []string `yaml:"elementary"`
	Middle     []string `yaml:"middle"`
	High       []string `yaml:"high"`
	Exceptions []struct {
		Name  string `yaml:"name"`
		Level string `yaml:"level"`
	} `yaml:"exceptions"`
}

// Registry answers campus-name classification with O(1) set membership.
type Registry struct {
	elementary map[string]struct{}
	middle     map[string]struct{}
	high       map[string]struct{}
}

// Load parses a roster document and builds the registry.
//
// Exception entries with level "middle" join the middle set; every other
// exception joins the high set, regardless of what the name suggests.
func Load(r io.Reader) (*Registry, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rosters: %w", err)
	}

	var doc rosterDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse rosters YAML: %w", err)
	}
	if len(doc.Elementary) == 0 && len(doc.Middle) == 0 && len(doc.High) == 0 {
		return nil, fmt.Errorf("rosters are empty")
	}

	reg := &Registry{
		elementary: toSet(doc.Elementary),
		middle:     toSet(doc.Middle),
		high:       toSet(doc.High),
	}
	for _, ex := range doc.Exceptions {
		name := strings.TrimSpace(ex.Name)
		if name == "" {
			return nil, fmt.Errorf("exception entry missing name")
		}
		switch strings.ToLower(strings.TrimSpace(ex.Level)) {
		case "middle":
			reg.middle[name] = struct{}{}
		case "", "high":
			reg.high[name] = struct{}{}
		default:
			return nil, fmt.Errorf("exception %q: unknown level %q", name, ex.Level)
		}
	}
	return reg, nil
}

// Default builds the registry from the embedded district rosters.
func Default() *Registry {
	reg, err := Load(bytes.NewReader(defaultRosters))
	if err != nil {
		// The embedded rosters ship with the binary; failing to parse them
		// is a build defect, not a runtime condition.
		panic(fmt.Sprintf("campus: embedded rosters invalid: %v", err))
	}
	return reg
}

// Classify maps a raw campus name to its level, or Unmatched.
//
// Sets are checked in elementary, middle, high order; the first match wins
// if a name ever appeared in more than one list.
func (r *Registry) Classify(name string) Type {
	name = strings.TrimSpace(name)
	if name == "" {
		return Unmatched
	}
	if _, ok := r.elementary[name]; ok {
		return Elementary
	}
	if _, ok := r.middle[name]; ok {
		return Middle
	}
	if _, ok := r.high[name]; ok {
		return High
	}
	return Unmatched
}

// Names returns the member names of one level. Intended for tests and
// diagnostics; the returned slice has no defined order.
func (r *Registry) Names(t Type) []string {
	var set map[string]struct{}
	switch t {
	case Elementary:
		set = r.elementary
	case Middle:
		set = r.middle
	case High:
		set = r.high
	default:
		return nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out[n] = struct{}{}
	}
	return out
}
