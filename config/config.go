package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Pool      PoolConfig
	Retry     RetryConfig
	Scrape    ScrapeConfig
	Cache     CacheConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Log       LogConfig

	// TargetsFile is the path to the YAML target definitions.
	TargetsFile string // default: "targets.yaml"
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is the proxy URL for all browser and HTTP traffic.
	Proxy string

	// BlockedResourceTypes lists resource types to block during page loads.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string

	// NavigationTimeout is the max time for a single page navigation.
	NavigationTimeout time.Duration // default: 15s
}

// PoolConfig controls the browser session pool.
type PoolConfig struct {
	// Size is the fixed number of live browser sessions.
	Size int // default: 4

	// AcquireTimeout is how long a caller waits for an idle session
	// before failing with POOL_TIMEOUT.
	AcquireTimeout time.Duration // default: 10s

	// SessionMaxUses retires a session after this many extractions,
	// bounding memory growth in long-lived browser pages.
	SessionMaxUses int // default: 50

	// SessionMaxAge retires a session after this lifetime.
	SessionMaxAge time.Duration // default: 50m
}

// RetryConfig controls the retry/backoff policy per refresh.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget per refresh.
	MaxAttempts int // default: 3

	// BaseDelay is the backoff before the second attempt; it doubles
	// per attempt thereafter.
	BaseDelay time.Duration // default: 500ms

	// MaxDelay caps the backoff.
	MaxDelay time.Duration // default: 8s
}

// ScrapeConfig controls refresh behavior.
type ScrapeConfig struct {
	// RefreshTimeout bounds one whole refresh, covering all retry attempts.
	RefreshTimeout time.Duration // default: 45s

	// HTTPTimeout is the deadline for one plain-HTTP fetch attempt.
	HTTPTimeout time.Duration // default: 10s
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	// DefaultTTL applies to targets without their own ttl.
	DefaultTTL time.Duration // default: 60s

	// IdleEviction drops entries not read for this long.
	IdleEviction time.Duration // default: 1h

	// MaxEntries is the cache size cap.
	MaxEntries int // default: 1024

	// SweepInterval is how often the idle-eviction loop runs.
	SweepInterval time.Duration // default: 5m
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 10

	// Burst is the maximum burst size per API key.
	Burst int // default: 20
}

// WebhookConfig controls refresh-failure event delivery.
type WebhookConfig struct {
	// URL receives signed JSON events; empty disables webhooks.
	URL string

	// Secret signs event payloads with HMAC-SHA256.
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("LOTWATCH_HOST", "0.0.0.0"),
			Port: envIntOr("LOTWATCH_PORT", 8080),
			Mode: envOr("LOTWATCH_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("LOTWATCH_HEADLESS", true),
			NoSandbox:  envBoolOr("LOTWATCH_NO_SANDBOX", false),
			BrowserBin: os.Getenv("LOTWATCH_BROWSER_BIN"),
			Proxy:      os.Getenv("LOTWATCH_PROXY"),
			BlockedResourceTypes: envSliceOr("LOTWATCH_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
			NavigationTimeout: envDurationOr("LOTWATCH_NAV_TIMEOUT", 15*time.Second),
		},
		Pool: PoolConfig{
			Size:           envIntOr("LOTWATCH_POOL_SIZE", 4),
			AcquireTimeout: envDurationOr("LOTWATCH_POOL_TIMEOUT", 10*time.Second),
			SessionMaxUses: envIntOr("LOTWATCH_SESSION_MAX_USES", 50),
			SessionMaxAge:  envDurationOr("LOTWATCH_SESSION_MAX_AGE", 50*time.Minute),
		},
		Retry: RetryConfig{
			MaxAttempts: envIntOr("LOTWATCH_MAX_RETRIES", 3),
			BaseDelay:   envDurationOr("LOTWATCH_RETRY_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:    envDurationOr("LOTWATCH_RETRY_MAX_DELAY", 8*time.Second),
		},
		Scrape: ScrapeConfig{
			RefreshTimeout: envDurationOr("LOTWATCH_REFRESH_TIMEOUT", 45*time.Second),
			HTTPTimeout:    envDurationOr("LOTWATCH_HTTP_TIMEOUT", 10*time.Second),
		},
		Cache: CacheConfig{
			DefaultTTL:    envDurationOr("LOTWATCH_CACHE_TTL", 60*time.Second),
			IdleEviction:  envDurationOr("LOTWATCH_CACHE_IDLE_EVICTION", time.Hour),
			MaxEntries:    envIntOr("LOTWATCH_CACHE_MAX_ENTRIES", 1024),
			SweepInterval: envDurationOr("LOTWATCH_CACHE_SWEEP_INTERVAL", 5*time.Minute),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("LOTWATCH_AUTH_ENABLED", false),
			APIKeys: envSliceOr("LOTWATCH_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("LOTWATCH_RATE_RPS", 10.0),
			Burst:             envIntOr("LOTWATCH_RATE_BURST", 20),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("LOTWATCH_WEBHOOK_URL"),
			Secret: os.Getenv("LOTWATCH_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("LOTWATCH_LOG_LEVEL", "info"),
			Format: envOr("LOTWATCH_LOG_FORMAT", "json"),
		},
		TargetsFile: envOr("LOTWATCH_TARGETS", "targets.yaml"),
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
