// Package targets loads and validates the static target definitions that
// drive the scrape engine: one entry per parking page, with its URL,
// readiness condition and extraction schema.
package targets

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/goccy/go-yaml"

	"github.com/openlot/lotwatch/models"
)

// fileSpec is the YAML shape of the targets file.
type fileSpec struct {
	Defaults defaultsSpec `yaml:"defaults"`
	Targets  []targetSpec `yaml:"targets"`
}

type defaultsSpec struct {
	TTL       string `yaml:"ttl"`
	FetchMode string `yaml:"fetch_mode"`
	Stealth   *bool  `yaml:"stealth"`
}

type targetSpec struct {
	Key       string      `yaml:"key"`
	Name      string      `yaml:"name"`
	URL       string      `yaml:"url"`
	FetchMode string      `yaml:"fetch_mode"`
	Stealth   *bool       `yaml:"stealth"`
	TTL       string      `yaml:"ttl"`
	Ready     readySpec   `yaml:"ready"`
	Fields    []fieldSpec `yaml:"fields"`
}

type readySpec struct {
	Selector string `yaml:"selector"`
	Delay    string `yaml:"delay"`
}

type fieldSpec struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr"`
	Type     string `yaml:"type"`
	Optional bool   `yaml:"optional"`
}

// Registry is the immutable set of configured targets, keyed by target key.
type Registry struct {
	byKey map[string]*models.Target
	keys  []string
}

// Load reads and validates the targets file. Every selector is compiled
// once here so a broken selector fails startup instead of every scrape.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("targets: read %s: %w", path, err)
	}

	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("targets: parse %s: %w", path, err)
	}
	if len(spec.Targets) == 0 {
		return nil, fmt.Errorf("targets: %s defines no targets", path)
	}

	defaults, err := spec.Defaults.resolve()
	if err != nil {
		return nil, fmt.Errorf("targets: defaults: %w", err)
	}

	list := make([]*models.Target, 0, len(spec.Targets))
	for i, ts := range spec.Targets {
		t, err := ts.build(defaults)
		if err != nil {
			return nil, fmt.Errorf("targets: entry %d (%q): %w", i, ts.Key, err)
		}
		list = append(list, t)
	}

	return NewRegistry(list)
}

// NewRegistry builds a registry from already-validated targets,
// rejecting duplicate keys.
func NewRegistry(list []*models.Target) (*Registry, error) {
	r := &Registry{byKey: make(map[string]*models.Target, len(list))}
	for _, t := range list {
		if _, dup := r.byKey[t.Key]; dup {
			return nil, fmt.Errorf("targets: duplicate key %q", t.Key)
		}
		r.byKey[t.Key] = t
		r.keys = append(r.keys, t.Key)
	}
	sort.Strings(r.keys)
	return r, nil
}

// Get returns the target for key, if configured.
func (r *Registry) Get(key string) (*models.Target, bool) {
	t, ok := r.byKey[key]
	return t, ok
}

// All returns every target sorted by key.
func (r *Registry) All() []*models.Target {
	out := make([]*models.Target, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.byKey[k])
	}
	return out
}

// Len returns the number of configured targets.
func (r *Registry) Len() int {
	return len(r.byKey)
}

type resolvedDefaults struct {
	ttl       time.Duration
	fetchMode string
	stealth   bool
}

func (d defaultsSpec) resolve() (resolvedDefaults, error) {
	out := resolvedDefaults{
		fetchMode: models.FetchModeBrowser,
		stealth:   true,
	}
	if d.TTL != "" {
		ttl, err := time.ParseDuration(d.TTL)
		if err != nil {
			return out, fmt.Errorf("invalid ttl %q: %w", d.TTL, err)
		}
		out.ttl = ttl
	}
	if d.FetchMode != "" {
		if err := validFetchMode(d.FetchMode); err != nil {
			return out, err
		}
		out.fetchMode = d.FetchMode
	}
	if d.Stealth != nil {
		out.stealth = *d.Stealth
	}
	return out, nil
}

func (ts targetSpec) build(defaults resolvedDefaults) (*models.Target, error) {
	if ts.Key == "" {
		return nil, fmt.Errorf("missing key")
	}
	if ts.URL == "" {
		return nil, fmt.Errorf("missing url")
	}
	u, err := url.Parse(ts.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", ts.URL)
	}
	if len(ts.Fields) == 0 {
		return nil, fmt.Errorf("no fields defined")
	}

	t := &models.Target{
		Key:       ts.Key,
		Name:      ts.Name,
		URL:       ts.URL,
		FetchMode: defaults.fetchMode,
		Stealth:   defaults.stealth,
		TTL:       defaults.ttl,
	}
	if ts.FetchMode != "" {
		if err := validFetchMode(ts.FetchMode); err != nil {
			return nil, err
		}
		t.FetchMode = ts.FetchMode
	}
	if ts.Stealth != nil {
		t.Stealth = *ts.Stealth
	}
	if ts.TTL != "" {
		ttl, err := time.ParseDuration(ts.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid ttl %q: %w", ts.TTL, err)
		}
		t.TTL = ttl
	}

	t.Readiness, err = ts.Ready.build()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(ts.Fields))
	for _, fs := range ts.Fields {
		f, err := fs.build()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		t.Schema = append(t.Schema, f)
	}
	return t, nil
}

func (rs readySpec) build() (models.Readiness, error) {
	switch {
	case rs.Selector != "" && rs.Delay != "":
		return models.Readiness{}, fmt.Errorf("ready: selector and delay are mutually exclusive")
	case rs.Selector != "":
		if _, err := cascadia.Parse(rs.Selector); err != nil {
			return models.Readiness{}, fmt.Errorf("ready: invalid selector %q: %w", rs.Selector, err)
		}
		return models.Readiness{Kind: models.ReadySelector, Selector: rs.Selector}, nil
	case rs.Delay != "":
		d, err := time.ParseDuration(rs.Delay)
		if err != nil || d < 0 {
			return models.Readiness{}, fmt.Errorf("ready: invalid delay %q", rs.Delay)
		}
		return models.Readiness{Kind: models.ReadyDelay, Delay: d}, nil
	default:
		return models.Readiness{Kind: models.ReadyDOMStable}, nil
	}
}

func (fs fieldSpec) build() (models.FieldSpec, error) {
	if fs.Name == "" {
		return models.FieldSpec{}, fmt.Errorf("field with empty name")
	}
	if fs.Selector == "" {
		return models.FieldSpec{}, fmt.Errorf("field %q: missing selector", fs.Name)
	}
	if _, err := cascadia.Parse(fs.Selector); err != nil {
		return models.FieldSpec{}, fmt.Errorf("field %q: invalid selector %q: %w", fs.Name, fs.Selector, err)
	}

	ftype := fs.Type
	if ftype == "" {
		ftype = models.FieldString
	}
	switch ftype {
	case models.FieldString, models.FieldInt, models.FieldFloat, models.FieldBool:
	default:
		return models.FieldSpec{}, fmt.Errorf("field %q: unknown type %q", fs.Name, fs.Type)
	}

	return models.FieldSpec{
		Name:     fs.Name,
		Selector: fs.Selector,
		Attr:     fs.Attr,
		Type:     ftype,
		Optional: fs.Optional,
	}, nil
}

func validFetchMode(mode string) error {
	switch mode {
	case models.FetchModeBrowser, models.FetchModeHTTP:
		return nil
	}
	return fmt.Errorf("unknown fetch_mode %q", mode)
}
