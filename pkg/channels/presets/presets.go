// Package presets provides YAML-defined collector profiles.
//
// A preset names a limit, a timeout and a filter so chat commands like
// "!collect vote" can start a collector without any code. Builtins are
// always registered; a YAML file with the same name replaces them.
//
// Preset directories searched (in order):
//  1. ./presets/    (relative to working directory)
//  2. ~/.msgcollector/presets/
package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sipeed/msgcollector/pkg/collector"
)

// ─────────────────────────────────────────────────────────────────────────────
// Preset schema
// ─────────────────────────────────────────────────────────────────────────────

// Preset is the YAML schema for a reusable collector profile.
type Preset struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Limit       int           `yaml:"limit"`
	Timeout     time.Duration `yaml:"timeout"`
	Match       MatchSpec     `yaml:"filter"`

	// Source metadata (set by loader, not in YAML)
	SourceFile string `yaml:"-" json:"source_file,omitempty"`
	Builtin    bool   `yaml:"-" json:"builtin"`

	re *regexp.Regexp
}

// MatchSpec is the declarative filter of a preset. Every non-empty field
// must match; Contains matches if any of its entries does.
type MatchSpec struct {
	Prefix     string   `yaml:"prefix,omitempty"`
	Contains   []string `yaml:"contains,omitempty"`
	Regex      string   `yaml:"regex,omitempty"`
	Authors    []string `yaml:"authors,omitempty"`
	IgnoreCase bool     `yaml:"ignore_case,omitempty"`
}

// Options returns the collector options of the preset.
func (p *Preset) Options() collector.Options {
	return collector.Options{Limit: p.Limit, Timeout: p.Timeout}
}

// Filter builds the collector filter described by the preset.
// Validate must have been called for a regex to take effect.
func (p *Preset) Filter() collector.Filter {
	m := p.Match
	var parts []collector.Filter

	if m.Prefix != "" {
		parts = append(parts, collector.ContentPrefix(m.Prefix, m.IgnoreCase))
	}
	if len(m.Contains) > 0 {
		anyOf := make([]collector.Filter, 0, len(m.Contains))
		for _, s := range m.Contains {
			anyOf = append(anyOf, collector.ContentContains(s, m.IgnoreCase))
		}
		parts = append(parts, collector.Or(anyOf...))
	}
	if p.re != nil {
		parts = append(parts, collector.ContentMatches(p.re))
	}
	if len(m.Authors) > 0 {
		parts = append(parts, collector.FromAuthors(m.Authors...))
	}

	if len(parts) == 0 {
		return collector.MatchAll()
	}
	return collector.And(parts...)
}

// Validate checks the preset and compiles its regex.
func (p *Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset has no 'name' field")
	}
	if strings.ContainsAny(p.Name, " \t\n") {
		return fmt.Errorf("preset name '%s' must be a single word", p.Name)
	}
	if _, err := collector.NewConfig(p.Options()); err != nil {
		return fmt.Errorf("preset '%s': %w", p.Name, err)
	}

	p.re = nil
	if p.Match.Regex != "" {
		expr := p.Match.Regex
		if p.Match.IgnoreCase && !strings.HasPrefix(expr, "(?i)") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("preset '%s': invalid regex: %w", p.Name, err)
		}
		p.re = re
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Builtins
// ─────────────────────────────────────────────────────────────────────────────

// Builtins returns the presets compiled into the binary.
func Builtins() []*Preset {
	return []*Preset{
		{
			Name:        "next",
			Description: "Wait for the next message in the channel",
			Limit:       1,
			Timeout:     30 * time.Second,
			Builtin:     true,
		},
		{
			Name:        "vote",
			Description: "Collect up to 10 yes/no votes for one minute",
			Limit:       10,
			Timeout:     time.Minute,
			Match: MatchSpec{
				Regex:      `^\s*(yes|no|y|n)\s*$`,
				IgnoreCase: true,
			},
			Builtin: true,
		},
		{
			Name:        "poll",
			Description: "Collect numbered answers (1-9) for two minutes",
			Limit:       50,
			Timeout:     2 * time.Minute,
			Match: MatchSpec{
				Regex: `^\s*[1-9]\s*$`,
			},
			Builtin: true,
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────────────────────

// Registry is a thread-safe store of loaded presets.
type Registry struct {
	mu      sync.RWMutex
	presets map[string]*Preset
}

// NewRegistry creates a registry holding the builtin presets.
func NewRegistry() *Registry {
	r := &Registry{presets: make(map[string]*Preset)}
	for _, p := range Builtins() {
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("presets: invalid builtin: %v", err))
		}
		r.Register(p)
	}
	return r
}

// Load reads all *.yaml / *.yml files from dir and registers them.
// Errors in individual files are collected but don't abort loading.
func (r *Registry) Load(dir string) (int, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, []error{fmt.Errorf("cannot read preset dir %s: %w", dir, err)}
	}

	loaded := 0
	var errs []error

	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		p, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", e.Name(), err))
			continue
		}
		r.Register(p)
		loaded++
	}

	return loaded, errs
}

// LoadDirs loads every existing directory in dirs and returns a summary.
func (r *Registry) LoadDirs(dirs []string) (int, []string) {
	total := 0
	var warnings []string

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		n, errs := r.Load(dir)
		total += n
		for _, e := range errs {
			warnings = append(warnings, e.Error())
		}
	}

	return total, warnings
}

// LoadFile parses and validates a single YAML preset file.
func LoadFile(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.SourceFile = path
	return &p, nil
}

// Register adds or replaces a preset in the registry.
func (r *Registry) Register(p *Preset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[strings.ToLower(p.Name)] = p
}

// Get retrieves a preset by name (case-insensitive).
func (r *Registry) Get(name string) (*Preset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[strings.ToLower(name)]
	return p, ok
}

// List returns all registered presets, sorted by name.
func (r *Registry) List() []*Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered presets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.presets)
}
