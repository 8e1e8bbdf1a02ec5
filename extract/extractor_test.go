package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openlot/lotwatch/models"
)

const lotHTML = `<!DOCTYPE html>
<html><head><title>Downtown Lot 42</title></head><body>
<h1 class="lot-title">Downtown Lot 42</h1>
<div id="availability" data-open="true">
  <span class="free">17 spaces free</span>
  <span class="total">of 120 total</span>
</div>
<div class="pricing"><span class="rate">$3.50/hr</span></div>
<p class="status">Open</p>
</body></html>`

// scriptedSession replays canned outcomes for each lifecycle step.
type scriptedSession struct {
	gotoErr  error
	readyErr error
	html     string
	htmlErr  error

	gotoCalls  int
	readyCalls int
	lastURL    string
	lastReady  models.Readiness
}

func (s *scriptedSession) Goto(_ context.Context, url string, _ bool) error {
	s.gotoCalls++
	s.lastURL = url
	return s.gotoErr
}

func (s *scriptedSession) WaitReady(_ context.Context, r models.Readiness) error {
	s.readyCalls++
	s.lastReady = r
	return s.readyErr
}

func (s *scriptedSession) HTML(context.Context) (string, error) {
	return s.html, s.htmlErr
}

func (s *scriptedSession) Close() error { return nil }

func lotTarget() *models.Target {
	return &models.Target{
		Key:       "lot-42",
		URL:       "https://parking.example.com/lots/42",
		FetchMode: models.FetchModeBrowser,
		Readiness: models.Readiness{Kind: models.ReadySelector, Selector: "#availability"},
		Schema: []models.FieldSpec{
			{Name: "lot_name", Selector: "h1.lot-title", Type: models.FieldString},
			{Name: "spots_free", Selector: "#availability .free", Type: models.FieldInt},
			{Name: "spots_total", Selector: "#availability .total", Type: models.FieldInt},
			{Name: "hourly_rate", Selector: ".pricing .rate", Type: models.FieldFloat},
			{Name: "is_open", Selector: "#availability", Attr: "data-open", Type: models.FieldBool},
			{Name: "notice", Selector: ".notice", Type: models.FieldString, Optional: true},
		},
	}
}

func TestExtractMapsFields(t *testing.T) {
	sess := &scriptedSession{html: lotHTML}
	ex := NewExtractor(time.Second)

	res, err := ex.Extract(context.Background(), sess, lotTarget())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if sess.lastURL != "https://parking.example.com/lots/42" {
		t.Errorf("navigated to %q", sess.lastURL)
	}
	if sess.lastReady.Selector != "#availability" {
		t.Errorf("readiness selector = %q", sess.lastReady.Selector)
	}
	if res.FetchMethod != models.FetchModeBrowser {
		t.Errorf("fetch method = %q, want browser", res.FetchMethod)
	}

	want := map[string]any{
		"lot_name":    "Downtown Lot 42",
		"spots_free":  17,
		"spots_total": 120,
		"hourly_rate": 3.5,
		"is_open":     true,
	}
	for name, expected := range want {
		if got := res.Fields[name]; got != expected {
			t.Errorf("field %s = %v (%T), want %v (%T)", name, got, got, expected, expected)
		}
	}
	if _, present := res.Fields["notice"]; present {
		t.Error("absent optional field should be omitted, not defaulted")
	}
}

func TestExtractSchemaMismatchOnMissingRequired(t *testing.T) {
	target := lotTarget()
	target.Schema = append(target.Schema, models.FieldSpec{
		Name: "overnight_rate", Selector: ".pricing .overnight", Type: models.FieldFloat,
	})

	sess := &scriptedSession{html: lotHTML}
	_, err := NewExtractor(time.Second).Extract(context.Background(), sess, target)
	if err == nil {
		t.Fatal("Extract should fail when a required field is absent")
	}
	if models.CodeOf(err) != models.ErrCodeSchemaMismatch {
		t.Errorf("error code = %s, want SCHEMA_MISMATCH", models.CodeOf(err))
	}
	if models.IsTransient(err) {
		t.Error("schema mismatch must not be classified transient")
	}
}

func TestExtractSchemaMismatchOnBadType(t *testing.T) {
	target := lotTarget()
	target.Schema = []models.FieldSpec{
		{Name: "spots_free", Selector: "h1.lot-title", Type: models.FieldInt},
	}

	sess := &scriptedSession{html: `<html><body><h1 class="lot-title">no numbers here</h1></body></html>`}
	_, err := NewExtractor(time.Second).Extract(context.Background(), sess, target)
	if models.CodeOf(err) != models.ErrCodeSchemaMismatch {
		t.Fatalf("error code = %s, want SCHEMA_MISMATCH", models.CodeOf(err))
	}
}

func TestExtractNavigationFailure(t *testing.T) {
	sess := &scriptedSession{gotoErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	_, err := NewExtractor(time.Second).Extract(context.Background(), sess, lotTarget())
	if models.CodeOf(err) != models.ErrCodeNavigation {
		t.Fatalf("error code = %s, want NAVIGATION_FAILED", models.CodeOf(err))
	}
	if !models.IsTransient(err) {
		t.Error("navigation failure must be transient")
	}
	if sess.readyCalls != 0 {
		t.Error("readiness wait should not run after failed navigation")
	}
}

func TestExtractReadinessTimeout(t *testing.T) {
	sess := &scriptedSession{readyErr: context.DeadlineExceeded}
	_, err := NewExtractor(time.Second).Extract(context.Background(), sess, lotTarget())
	if models.CodeOf(err) != models.ErrCodeReadinessTimeout {
		t.Fatalf("error code = %s, want READINESS_TIMEOUT", models.CodeOf(err))
	}
	if !models.IsTransient(err) {
		t.Error("readiness timeout must be transient")
	}
}

func TestConvertField(t *testing.T) {
	tests := []struct {
		raw   string
		ftype string
		want  any
		fails bool
	}{
		{"42 spaces free", models.FieldInt, 42, false},
		{"1,204", models.FieldInt, 1204, false},
		{"$3.50/hr", models.FieldFloat, 3.5, false},
		{"€12,500.75", models.FieldFloat, 12500.75, false},
		{"-5", models.FieldInt, -5, false},
		{"full", models.FieldBool, false, false},
		{"Open", models.FieldBool, true, false},
		{"true", models.FieldBool, true, false},
		{"  padded  ", models.FieldString, "padded", false},
		{"no digits", models.FieldInt, nil, true},
		{"maybe", models.FieldBool, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw+"/"+tt.ftype, func(t *testing.T) {
			got, err := convertField(strings.TrimSpace(tt.raw), tt.ftype)
			if tt.fails {
				if err == nil {
					t.Fatalf("convertField(%q, %s) succeeded with %v, want error", tt.raw, tt.ftype, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("convertField(%q, %s): %v", tt.raw, tt.ftype, err)
			}
			if got != tt.want {
				t.Errorf("convertField(%q, %s) = %v (%T), want %v (%T)", tt.raw, tt.ftype, got, got, tt.want, tt.want)
			}
		})
	}
}
