// Package extract turns a navigated page into typed parking fields.
// The browser path drives a pooled session through navigate → readiness
// wait → DOM read; the HTTP path (httpfetch.go) skips the browser for
// server-rendered targets. Both feed the same schema mapper.
package extract

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/openlot/lotwatch/browser"
	"github.com/openlot/lotwatch/models"
)

// Extractor performs one extraction attempt on a leased browser session.
// It never holds the session beyond the attempt; acquiring and releasing
// is the caller's job so that every exit path is covered by one defer.
type Extractor struct {
	navTimeout time.Duration
}

// NewExtractor creates an Extractor with the given per-navigation timeout.
func NewExtractor(navTimeout time.Duration) *Extractor {
	return &Extractor{navTimeout: navTimeout}
}

// Extract navigates the session to the target, waits for its readiness
// condition and maps the DOM to the target's schema.
//
// Error codes: NAVIGATION_FAILED and READINESS_TIMEOUT are transient and
// retried by the caller with a fresh session; SCHEMA_MISMATCH means the
// page rendered but no longer matches the schema and is never retried.
func (e *Extractor) Extract(ctx context.Context, sess browser.Session, t *models.Target) (*models.ExtractionResult, error) {
	navCtx := ctx
	if e.navTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, e.navTimeout)
		defer cancel()
	}
	if err := sess.Goto(navCtx, t.URL, t.Stealth); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeNavigation,
			"navigation to target URL failed", err)
	}

	if err := sess.WaitReady(ctx, t.Readiness); err != nil {
		code := models.ErrCodeReadinessTimeout
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			code = models.ErrCodeNavigation
		}
		return nil, models.NewScrapeError(code, "readiness condition not met", err)
	}

	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeNavigation,
			"failed to read page HTML", err)
	}

	fields, err := MapSchema(html, t.Schema)
	if err != nil {
		return nil, err
	}

	return &models.ExtractionResult{
		TargetKey:   t.Key,
		Fields:      fields,
		FetchedAt:   time.Now(),
		FetchMethod: models.FetchModeBrowser,
	}, nil
}

// MapSchema applies a target schema to rendered HTML and returns the
// typed field values. A required field that is absent, or a value that
// cannot be converted to its declared type, is a SCHEMA_MISMATCH.
func MapSchema(html string, schema []models.FieldSpec) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInternal,
			"failed to parse page HTML", err)
	}

	fields := make(map[string]any, len(schema))
	var missing []string

	for _, f := range schema {
		sel := doc.Find(f.Selector).First()
		if sel.Length() == 0 {
			if !f.Optional {
				missing = append(missing, f.Name)
			}
			continue
		}

		var raw string
		if f.Attr != "" {
			var ok bool
			raw, ok = sel.Attr(f.Attr)
			if !ok {
				if !f.Optional {
					missing = append(missing, f.Name)
				}
				continue
			}
		} else {
			raw = sel.Text()
		}
		raw = strings.TrimSpace(raw)

		value, err := convertField(raw, f.Type)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeSchemaMismatch,
				"field "+f.Name+": "+err.Error(), err)
		}
		fields[f.Name] = value
	}

	if len(missing) > 0 {
		return nil, models.NewScrapeError(models.ErrCodeSchemaMismatch,
			"required fields absent from page: "+strings.Join(missing, ", "), nil)
	}
	return fields, nil
}
