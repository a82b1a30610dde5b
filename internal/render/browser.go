package render

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"vollahub/internal/config"
	"vollahub/internal/logger"
)

// BrowserOptions configures the headless browser strategy.
type BrowserOptions struct {
	Timeout            time.Duration
	WaitForSelector    string
	CaptureDelay       time.Duration
	ConcurrentSessions int
	DisableHeadless    bool
	UserAgent          string
	MaxBodyBytes       int64
	// MobileHosts receive the mobile viewport and stylesheet before capture.
	MobileHosts []string
}

// BrowserOptionsFrom maps the rendering config section.
func BrowserOptionsFrom(cfg config.RenderingConfig, userAgent string, maxBody int64) BrowserOptions {
	return BrowserOptions{
		Timeout:            cfg.Timeout.Duration,
		WaitForSelector:    cfg.WaitForSelector,
		CaptureDelay:       cfg.CaptureDelay.Duration,
		ConcurrentSessions: cfg.ConcurrentSessions,
		DisableHeadless:    cfg.DisableHeadless,
		UserAgent:          userAgent,
		MaxBodyBytes:       maxBody,
		MobileHosts:        cfg.MobileHosts,
	}
}

// mobileScript adds a device-width viewport and compact styles, and hides
// the MediaWiki navigation chrome.
const mobileScript = `(function() {
    var meta = document.createElement('meta');
    meta.name = 'viewport';
    meta.content = 'width=device-width, initial-scale=1.0, maximum-scale=5.0, user-scalable=yes';
    document.getElementsByTagName('head')[0].appendChild(meta);

    var style = document.createElement('style');
    style.innerHTML = ` + "`" + `
        body { font-size: 16px !important; line-height: 1.6 !important; padding: 8px !important; }
        img { max-width: 100% !important; height: auto !important; }
        table { width: 100% !important; font-size: 14px !important; }
        pre, code { font-size: 13px !important; overflow-x: auto !important; }
        #mw-navigation, .mw-jump-link { display: none !important; }
    ` + "`" + `;
    document.head.appendChild(style);
    return true;
})()`

// BrowserRenderer loads pages in headless Chrome and returns the final DOM.
type BrowserRenderer struct {
	opts      BrowserOptions
	semaphore chan struct{}
	log       logger.Logger
}

// NewBrowserRenderer constructs a renderer with bounded concurrency.
func NewBrowserRenderer(opts BrowserOptions, log logger.Logger) *BrowserRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.CaptureDelay <= 0 {
		opts.CaptureDelay = 1500 * time.Millisecond
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 << 20
	}
	if opts.ConcurrentSessions <= 0 {
		opts.ConcurrentSessions = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BrowserRenderer{
		opts:      opts,
		semaphore: make(chan struct{}, opts.ConcurrentSessions),
		log:       log,
	}
}

// Render navigates to rawURL and exports the outer HTML of the document.
func (r *BrowserRenderer) Render(parentCtx context.Context, rawURL string) (string, error) {
	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return "", fmt.Errorf("render %q: not an absolute http(s) url", rawURL)
	}
	mobile := r.isMobileHost(target.Hostname())
	log := r.log.With(
		logger.String("url", rawURL),
		logger.Duration("timeout", r.opts.Timeout),
		logger.Bool("mobile", mobile),
	)

	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-parentCtx.Done():
		return "", parentCtx.Err()
	}

	ctx, cancel := context.WithTimeout(parentCtx, r.opts.Timeout)
	defer cancel()

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	defer allocCancel()
	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	actions := []chromedp.Action{chromedp.Navigate(rawURL)}
	if sel := strings.TrimSpace(r.opts.WaitForSelector); sel != "" {
		actions = append(actions, chromedp.WaitReady(sel, chromedp.ByQuery))
	} else {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery), chromedp.Sleep(r.opts.CaptureDelay))
	}
	if mobile {
		var injected bool
		actions = append(actions, chromedp.Evaluate(mobileScript, &injected))
	}
	var doc string
	actions = append(actions, chromedp.OuterHTML("html", &doc, chromedp.ByQuery))

	start := time.Now()
	log.Debug("Browser render starting")
	if err := chromedp.Run(chromeCtx, actions...); err != nil {
		log.Warn("Browser render failed", logger.Error(err))
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	if int64(len(doc)) > r.opts.MaxBodyBytes {
		doc = doc[:r.opts.MaxBodyBytes]
	}
	log.Debug("Browser render complete",
		logger.Duration("latency", time.Since(start)),
		logger.Int("html_bytes", len(doc)),
	)
	return doc, nil
}

func (r *BrowserRenderer) isMobileHost(host string) bool {
	return slices.Contains(r.opts.MobileHosts, strings.ToLower(host))
}
