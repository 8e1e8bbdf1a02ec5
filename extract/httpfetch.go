package extract

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	tls2 "github.com/refraction-networking/utls"
	"golang.org/x/net/html"

	"github.com/openlot/lotwatch/models"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const maxBodyBytes = 10 * 1024 * 1024 // 10 MB cap

// HTTPFetcher fetches server-rendered targets over plain HTTP with a
// Chrome TLS fingerprint, bypassing the browser pool entirely. Targets
// opt in with fetch_mode: http.
type HTTPFetcher struct {
	proxy   string
	timeout time.Duration

	// client overrides the built transport; set in tests.
	client *http.Client
}

// NewHTTPFetcher creates an HTTP fetcher. proxy may be empty.
func NewHTTPFetcher(proxy string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{proxy: proxy, timeout: timeout}
}

// Fetch retrieves the target page and maps it to the target schema.
// Pages that come back as a JavaScript shell (no server-rendered content)
// fail with NAVIGATION_FAILED; such targets need fetch_mode: browser.
func (f *HTTPFetcher) Fetch(ctx context.Context, t *models.Target) (*models.ExtractionResult, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	body, err := f.get(ctx, t.URL)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeNavigation,
			"HTTP fetch of target URL failed", err)
	}

	if needsBrowser(body) {
		return nil, models.NewScrapeError(models.ErrCodeNavigation,
			"page appears to require JavaScript rendering; use fetch_mode: browser", nil)
	}

	fields, err := MapSchema(string(body), t.Schema)
	if err != nil {
		return nil, err
	}

	return &models.ExtractionResult{
		TargetKey:   t.Key,
		Fields:      fields,
		FetchedAt:   time.Now(),
		FetchMethod: models.FetchModeHTTP,
	}, nil
}

// get issues the GET with Chrome-shaped headers and decompresses the body.
func (f *HTTPFetcher) get(ctx context.Context, targetURL string) ([]byte, error) {
	client := f.client
	if client == nil {
		transport := &http.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialTLSChrome(ctx, network, addr)
			},
		}
		if f.proxy != "" {
			if proxyURL, err := url.Parse(f.proxy); err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
		client = &http.Client{Transport: transport}
		defer client.CloseIdleConnections()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("httpfetch: HTTP %d for %s", resp.StatusCode, targetURL)
	}

	var reader io.Reader = io.LimitReader(resp.Body, maxBodyBytes)
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("httpfetch: gzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(reader)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read body: %w", err)
	}
	return body, nil
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint via utls.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls2.UClient(rawConn, &tls2.Config{
		ServerName: host,
	}, tls2.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// needsBrowser uses heuristics to decide if the HTTP-fetched HTML is a
// JS shell rather than server-rendered content: near-empty <body>, empty
// SPA root containers, or a noscript warning demanding JavaScript.
func needsBrowser(body []byte) bool {
	bodyText := extractVisibleText(body)
	if len(bodyText) < 120 {
		return true
	}

	lower := strings.ToLower(string(body))
	for _, shell := range []string{
		`<div id="root"></div>`,
		`<div id="app"></div>`,
		`<div id="__next"></div>`,
	} {
		if strings.Contains(lower, shell) {
			return true
		}
	}

	if strings.Contains(lower, "<noscript") &&
		(strings.Contains(lower, "enable javascript") || strings.Contains(lower, "requires javascript")) {
		return true
	}
	return false
}

// extractVisibleText extracts the visible text from within <body>,
// stripping all tags and <script>/<style> content. Heuristics only.
func extractVisibleText(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var buf strings.Builder
	inBody := false
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return buf.String()
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "body" {
				inBody = true
			}
			if tag == "script" || tag == "style" || tag == "noscript" {
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "script" || tag == "style" || tag == "noscript" {
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if inBody && skipDepth == 0 {
				text := strings.TrimSpace(string(tokenizer.Text()))
				if text != "" {
					buf.WriteString(text)
					buf.WriteByte(' ')
				}
			}
		}
	}
}
