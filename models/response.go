package models

import "time"

// ParkingResponse is the response for GET /api/v1/parking/:key.
type ParkingResponse struct {
	// Success indicates whether a result (fresh or stale) was served.
	Success bool `json:"success"`

	// Target is the resolved target key.
	Target string `json:"target,omitempty"`

	// Fields holds the extracted parking data.
	Fields map[string]any `json:"fields,omitempty"`

	// AsOf is when the served data was extracted.
	AsOf time.Time `json:"as_of,omitzero"`

	// Stale is true when the served result is past its TTL and a
	// background refresh is (or was) underway.
	Stale bool `json:"stale"`

	// Attempts is how many scrape attempts produced the served result.
	Attempts int `json:"attempts,omitempty"`

	// FetchMethod records how the page was fetched: "browser" or "http".
	FetchMethod string `json:"fetch_method,omitempty"`

	// Timing provides duration breakdowns for the request.
	Timing TimingInfo `json:"timing"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent serving a request.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// ResolveMs is the time spent in the coordinator (cache lookup plus
	// any refresh the caller waited on).
	ResolveMs int64 `json:"resolve_ms"`
}

// TargetSummary is one entry in the target catalog listing.
type TargetSummary struct {
	Key       string     `json:"key"`
	Name      string     `json:"name,omitempty"`
	URL       string     `json:"url"`
	FetchMode string     `json:"fetch_mode"`
	TTL       string     `json:"ttl"`
	Cached    bool       `json:"cached"`
	Stale     bool       `json:"stale"`
	AsOf      *time.Time `json:"as_of,omitempty"`
}

// TargetListResponse is the response for GET /api/v1/parking.
type TargetListResponse struct {
	Success bool            `json:"success"`
	Count   int             `json:"count"`
	Targets []TargetSummary `json:"targets"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Targets   int       `json:"targets"`
	Version   string    `json:"version"`
}

// PoolStats reports the state of the browser session pool.
type PoolStats struct {
	Capacity int `json:"capacity"`
	Leased   int `json:"leased"`
}
