// Package browser owns the headless-browser side of the system: the
// capability interface over the automation engine, its Rod implementation,
// and the fixed-size session pool that bounds concurrent page loads.
package browser

import (
	"context"

	"github.com/openlot/lotwatch/models"
)

// Session is one leased browser page. A session is owned by exactly one
// extraction attempt at a time; the pool hands it out and reclaims it.
type Session interface {
	// Goto navigates the page to url. Stealth evasions are injected
	// before navigation when requested.
	Goto(ctx context.Context, url string, stealth bool) error

	// WaitReady blocks until the target's readiness condition holds.
	WaitReady(ctx context.Context, ready models.Readiness) error

	// HTML returns the rendered page HTML.
	HTML(ctx context.Context) (string, error)

	// Close destroys the underlying page.
	Close() error
}

// Engine abstracts the browser automation toolkit so the pool and the
// tests never depend on Rod directly.
type Engine interface {
	// NewSession creates a fresh browser page.
	NewSession(ctx context.Context) (Session, error)

	// Close kills the underlying browser process.
	Close() error
}
