package targets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openlot/lotwatch/models"
)

func writeTargets(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write targets file: %v", err)
	}
	return path
}

const validYAML = `
defaults:
  ttl: 60s
  fetch_mode: browser
targets:
  - key: lot-42
    name: Downtown Lot 42
    url: https://parking.example.com/lots/42
    ready:
      selector: "#availability"
    fields:
      - name: spots_free
        selector: "#availability .free"
        type: int
      - name: spots_total
        selector: "#availability .total"
        type: int
      - name: hourly_rate
        selector: ".pricing .rate"
        type: float
      - name: lot_name
        selector: "h1.lot-title"
  - key: airport-p3
    url: https://parking.example.com/airport/p3
    fetch_mode: http
    ttl: 5m
    ready:
      delay: 2s
    fields:
      - name: is_open
        selector: ".status"
        attr: data-open
        type: bool
      - name: note
        selector: ".notice"
        optional: true
`

func TestLoadValid(t *testing.T) {
	reg, err := Load(writeTargets(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", reg.Len())
	}

	lot, ok := reg.Get("lot-42")
	if !ok {
		t.Fatal("lot-42 not found")
	}
	if lot.TTL != 60*time.Second {
		t.Errorf("lot-42 TTL = %v, want 60s (default)", lot.TTL)
	}
	if lot.FetchMode != models.FetchModeBrowser {
		t.Errorf("lot-42 fetch mode = %q, want browser", lot.FetchMode)
	}
	if lot.Readiness.Kind != models.ReadySelector || lot.Readiness.Selector != "#availability" {
		t.Errorf("lot-42 readiness = %+v, want selector #availability", lot.Readiness)
	}
	if len(lot.Schema) != 4 {
		t.Fatalf("lot-42 schema has %d fields, want 4", len(lot.Schema))
	}
	if lot.Schema[0].Name != "spots_free" || lot.Schema[0].Type != models.FieldInt {
		t.Errorf("first field = %+v, want spots_free/int", lot.Schema[0])
	}
	if lot.Schema[3].Type != models.FieldString {
		t.Errorf("untyped field should default to string, got %q", lot.Schema[3].Type)
	}

	airport, ok := reg.Get("airport-p3")
	if !ok {
		t.Fatal("airport-p3 not found")
	}
	if airport.FetchMode != models.FetchModeHTTP {
		t.Errorf("airport-p3 fetch mode = %q, want http (override)", airport.FetchMode)
	}
	if airport.TTL != 5*time.Minute {
		t.Errorf("airport-p3 TTL = %v, want 5m (override)", airport.TTL)
	}
	if airport.Readiness.Kind != models.ReadyDelay || airport.Readiness.Delay != 2*time.Second {
		t.Errorf("airport-p3 readiness = %+v, want 2s delay", airport.Readiness)
	}
	if !airport.Schema[1].Optional {
		t.Error("note field should be optional")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "duplicate key",
			yaml: `
targets:
  - key: lot-1
    url: https://example.com/a
    fields:
      - {name: x, selector: ".x"}
  - key: lot-1
    url: https://example.com/b
    fields:
      - {name: x, selector: ".x"}
`,
			wantErr: "duplicate key",
		},
		{
			name: "bad selector",
			yaml: `
targets:
  - key: lot-1
    url: https://example.com/a
    fields:
      - {name: x, selector: "div[[["}
`,
			wantErr: "invalid selector",
		},
		{
			name: "bad field type",
			yaml: `
targets:
  - key: lot-1
    url: https://example.com/a
    fields:
      - {name: x, selector: ".x", type: decimal}
`,
			wantErr: "unknown type",
		},
		{
			name: "missing url",
			yaml: `
targets:
  - key: lot-1
    fields:
      - {name: x, selector: ".x"}
`,
			wantErr: "missing url",
		},
		{
			name: "relative url",
			yaml: `
targets:
  - key: lot-1
    url: /lots/42
    fields:
      - {name: x, selector: ".x"}
`,
			wantErr: "invalid url",
		},
		{
			name: "conflicting readiness",
			yaml: `
targets:
  - key: lot-1
    url: https://example.com/a
    ready:
      selector: ".x"
      delay: 1s
    fields:
      - {name: x, selector: ".x"}
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "unknown fetch mode",
			yaml: `
targets:
  - key: lot-1
    url: https://example.com/a
    fetch_mode: carrier-pigeon
    fields:
      - {name: x, selector: ".x"}
`,
			wantErr: "unknown fetch_mode",
		},
		{
			name:    "no targets",
			yaml:    "defaults:\n  ttl: 60s\n",
			wantErr: "defines no targets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTargets(t, tt.yaml))
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestAllSortedByKey(t *testing.T) {
	reg, err := Load(writeTargets(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d targets, want 2", len(all))
	}
	if all[0].Key != "airport-p3" || all[1].Key != "lot-42" {
		t.Errorf("All() order = [%s, %s], want sorted by key", all[0].Key, all[1].Key)
	}
}
