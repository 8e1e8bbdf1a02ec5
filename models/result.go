package models

import "time"

// ExtractionResult is the outcome of one successful scrape of a target.
// It is immutable once produced.
type ExtractionResult struct {
	// TargetKey identifies the target this result belongs to.
	TargetKey string `json:"target_key"`

	// Fields holds the extracted values keyed by schema field name.
	// Values are typed per the field spec: string, int, float64 or bool.
	Fields map[string]any `json:"fields"`

	// FetchedAt is when the extraction completed.
	FetchedAt time.Time `json:"fetched_at"`

	// Attempts is how many scrape attempts the refresh needed.
	Attempts int `json:"attempts"`

	// FetchMethod records how the page was fetched: "browser" or "http".
	FetchMethod string `json:"fetch_method"`
}
