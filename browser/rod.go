package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/openlot/lotwatch/config"
	"github.com/openlot/lotwatch/models"
)

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// RodEngine drives a single headless Chromium process via go-rod.
// Sessions map to browser pages (tabs).
type RodEngine struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
}

// NewRodEngine launches the browser and connects to it.
func NewRodEngine(cfg config.BrowserConfig) (*RodEngine, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	// Mask the automation fingerprint and disable background features
	// that slow down or interfere with scraping.
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	return &RodEngine{browser: browser, cfg: cfg}, nil
}

// NewSession creates a browser page with resource blocking installed.
func (e *RodEngine) NewSession(ctx context.Context) (Session, error) {
	page, err := e.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to create browser page", err)
	}

	s := &rodSession{page: page}
	s.router = setupBlocking(page, e.cfg.BlockedResourceTypes)
	return s, nil
}

// Close kills the browser process. Call on shutdown to avoid zombie Chrome.
func (e *RodEngine) Close() error {
	return e.browser.Close()
}

// rodSession is one pooled browser page.
type rodSession struct {
	page   *rod.Page
	router *rod.HijackRouter
}

// Goto injects stealth (when requested) and navigates to url. Stealth and
// extra headers must be installed before navigation to take effect.
func (s *rodSession) Goto(ctx context.Context, url string, useStealth bool) error {
	if useStealth {
		if _, err := s.page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: proto.NetworkHeaders{
			"Accept-Language": gson.New("en-US,en;q=0.9"),
		},
	}.Call(s.page)

	return s.page.Context(ctx).Navigate(url)
}

// WaitReady blocks until the readiness condition holds or ctx expires.
func (s *rodSession) WaitReady(ctx context.Context, ready models.Readiness) error {
	p := s.page.Context(ctx)

	switch ready.Kind {
	case models.ReadySelector:
		// Element blocks until the selector matches.
		_, err := p.Element(ready.Selector)
		return err
	case models.ReadyDelay:
		select {
		case <-time.After(ready.Delay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		// WaitDOMStable not converging is tolerable: extract whatever
		// the page has settled into.
		if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
		}
		return nil
	}
}

// HTML returns the rendered page HTML.
func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

// Reset navigates to about:blank between uses so a pooled page does not
// hold the previous target's DOM in memory.
func (s *rodSession) Reset() {
	if err := s.page.Navigate("about:blank"); err != nil {
		slog.Warn("session reset failed", "error", err)
	}
}

// Close stops the hijack router and destroys the page.
func (s *rodSession) Close() error {
	if s.router != nil {
		_ = s.router.Stop()
	}
	return s.page.Close()
}

// setupBlocking installs a request interceptor that drops the configured
// resource types (images, CSS, fonts, media). Parking pages are scraped
// for text, so skipping heavyweight assets cuts load time substantially.
// Returns nil when nothing is blocked.
func setupBlocking(page *rod.Page, blockedTypes []string) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request whether to block or continue.
	_ = router.Add("*", "", func(hctx *rod.Hijack) {
		if _, shouldBlock := blocked[hctx.Request.Type()]; shouldBlock {
			hctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		hctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	// It exits when router.Stop() is called.
	go router.Run()

	return router
}
