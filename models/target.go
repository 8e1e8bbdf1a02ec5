package models

import "time"

// Fetch modes for a target.
const (
	// FetchModeBrowser renders the page in a pooled headless-browser session.
	FetchModeBrowser = "browser"

	// FetchModeHTTP fetches the page over plain HTTP with a Chrome TLS
	// fingerprint. Only usable for server-rendered pages; bypasses the
	// session pool entirely.
	FetchModeHTTP = "http"
)

// Readiness condition kinds.
const (
	// ReadySelector waits until a specific element is present.
	ReadySelector = "selector"

	// ReadyDelay waits a fixed duration after navigation.
	ReadyDelay = "delay"

	// ReadyDOMStable waits until the DOM stops mutating. The default.
	ReadyDOMStable = "dom_stable"
)

// Schema field types.
const (
	FieldString = "string"
	FieldInt    = "int"
	FieldFloat  = "float"
	FieldBool   = "bool"
)

// Readiness describes when a navigated page is considered loaded enough
// to extract from.
type Readiness struct {
	Kind     string        `json:"kind"`
	Selector string        `json:"selector,omitempty"` // for ReadySelector
	Delay    time.Duration `json:"delay,omitempty"`    // for ReadyDelay
}

// FieldSpec maps one schema field to a CSS selector on the page.
// With Attr empty the element's trimmed text is taken; otherwise the
// named attribute. Type drives conversion of the raw string.
type FieldSpec struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
	Attr     string `json:"attr,omitempty"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// Target is one configured parking page to scrape: where to go, when the
// page counts as ready, and which fields to pull out. Targets are built
// from the targets file at startup and never mutated afterwards.
type Target struct {
	// Key uniquely identifies the target, e.g. "downtown-lot-42".
	Key string `json:"key"`

	// Name is a human-readable label for listings.
	Name string `json:"name,omitempty"`

	// URL is the page to scrape.
	URL string `json:"url"`

	// FetchMode selects browser rendering or the plain-HTTP fast path.
	FetchMode string `json:"fetch_mode"`

	// Stealth enables anti-bot-detection evasions for browser fetches.
	Stealth bool `json:"stealth,omitempty"`

	// Readiness is the per-target page readiness condition.
	Readiness Readiness `json:"readiness"`

	// Schema lists the fields to extract, in declaration order.
	Schema []FieldSpec `json:"schema"`

	// TTL is how long a successful extraction stays fresh in the cache.
	// Zero means the configured default TTL.
	TTL time.Duration `json:"ttl"`
}
