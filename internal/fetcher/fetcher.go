package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"

	"vollahub/pkg/types"
)

// Fetcher retrieves and parses a single HTML document.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*types.Page, error)
}

// RedirectPolicy selects how a request treats 3xx responses.
type RedirectPolicy int

const (
	// RedirectDefault uses the fetcher-wide setting.
	RedirectDefault RedirectPolicy = iota
	RedirectFollow
	RedirectNone
)

// Request describes one GET. Zero fields fall back to the fetcher options.
type Request struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
	Redirects RedirectPolicy
}

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent       string
	Headers         map[string]string
	Timeout         time.Duration
	FollowRedirects bool
	MaxBodyBytes    int64
	ProxyURL        string
}

// HTTPFetcher implements Fetcher via the Go http.Client. It is safe for
// concurrent use; both clients share one transport and connection pool.
type HTTPFetcher struct {
	follow          *http.Client
	noFollow        *http.Client
	userAgent       string
	extraHeaders    map[string]string
	timeout         time.Duration
	followRedirects bool
	maxBodyBytes    int64
}

// NewHTTPFetcher constructs an HTTP fetcher using the provided options.
func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 * 1024 * 1024
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &HTTPFetcher{
		follow: &http.Client{Transport: transport},
		noFollow: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent:       opts.UserAgent,
		extraHeaders:    headers,
		timeout:         opts.Timeout,
		followRedirects: opts.FollowRedirects,
		maxBodyBytes:    opts.MaxBodyBytes,
	}, nil
}

// Fetch downloads req.URL and parses it into a goquery document.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*types.Page, error) {
	target, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || !target.IsAbs() || target.Host == "" {
		return nil, fmt.Errorf("%w: url %q is not absolute", ErrInvalidRequest, req.URL)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, target.Scheme)
	}
	if req.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0", ErrInvalidRequest)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = f.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rawURL := target.String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInvalidRequest, err)
	}

	userAgent := f.userAgent
	if req.UserAgent != "" {
		userAgent = req.UserAgent
	}
	if userAgent != "" {
		httpReq.Header.Set("User-Agent", userAgent)
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range f.extraHeaders {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client(req.Redirects).Do(httpReq)
	if err != nil {
		return nil, networkError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, httpError(rawURL, resp.StatusCode)
	}
	if !isHTML(resp.Header.Get("Content-Type")) {
		return nil, parseError(rawURL, fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
	}

	body, err := f.readBody(resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, networkError(rawURL, err)
		}
		return nil, parseError(rawURL, err)
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, parseError(rawURL, err)
	}
	doc.Url = finalURL

	return &types.Page{
		URL:        target,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Doc:        doc,
		FetchedAt:  time.Now(),
		Latency:    time.Since(start),
	}, nil
}

func (f *HTTPFetcher) client(policy RedirectPolicy) *http.Client {
	switch policy {
	case RedirectFollow:
		return f.follow
	case RedirectNone:
		return f.noFollow
	}
	if f.followRedirects {
		return f.follow
	}
	return f.noFollow
}

// isHTML accepts a missing content type; servers that omit it usually send HTML.
func isHTML(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml", "application/xml", "text/xml":
		return true
	}
	return false
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	var closer io.Closer

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader, closer = gz, gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader, closer = fl, fl
	}
	if closer != nil {
		defer closer.Close()
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}
	return body, nil
}

// Client exposes the redirect-following HTTP client for reuse (eg. robots.txt fetches).
func (f *HTTPFetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.follow
}
