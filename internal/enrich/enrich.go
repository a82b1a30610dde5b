// Package enrich fills entry excerpts with one extra fetch per entry.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"vollahub/internal/extract"
	"vollahub/internal/fetcher"
	"vollahub/pkg/types"
)

// ErrDisallowed marks an entry skipped because robots.txt forbids the fetch.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// RobotsChecker gates sub-fetches.
type RobotsChecker interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// Options tunes enrichment.
type Options struct {
	Timeout         time.Duration
	UserAgent       string
	Delay           time.Duration
	RateLimit       RateLimit
	Concurrency     int
	ExcerptLength   int
	ExcerptSelector string
}

// ItemResult describes what happened to one entry.
type ItemResult struct {
	Index    int
	URL      string
	Skipped  bool
	Err      error
	Duration time.Duration
}

// Report summarises one Enrich call.
type Report struct {
	Enriched int
	Skipped  int
	Failed   int
}

// Enricher fetches each entry's page and stores its first paragraph as the excerpt.
type Enricher struct {
	fetcher fetcher.Fetcher
	robots  RobotsChecker
	limiter *DomainLimiter
	opts    Options
}

// New builds an Enricher. robots may be nil.
func New(f fetcher.Fetcher, robots RobotsChecker, opts Options) *Enricher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = 150
	}
	if opts.ExcerptSelector == "" {
		opts.ExcerptSelector = "p"
	}
	return &Enricher{
		fetcher: f,
		robots:  robots,
		limiter: NewDomainLimiter(opts.Delay, opts.RateLimit),
		opts:    opts,
	}
}

// Enrich returns a copy of entries with excerpts filled in. Entries that
// already carry an excerpt are left alone. A failed fetch keeps the entry with
// an empty excerpt and is reported through observe; only cancellation of ctx
// makes Enrich return an error. Output order always equals input order.
func (e *Enricher) Enrich(ctx context.Context, entries []types.ContentEntry, observe func(ItemResult)) ([]types.ContentEntry, Report, error) {
	out := make([]types.ContentEntry, len(entries))
	copy(out, entries)
	results := make([]ItemResult, len(entries))
	ran := make([]bool, len(entries))

	var pending []int
	for i, entry := range out {
		if entry.Excerpt != "" {
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out, Report{}, ctx.Err()
	}

	pool, err := NewWorkerPool(ctx, e.opts.Concurrency, len(pending))
	if err != nil {
		return out, Report{}, err
	}
	for _, idx := range pending {
		if err := pool.Submit(ctx, func(ctx context.Context) {
			started := time.Now()
			excerpt, skipped, err := e.excerpt(ctx, out[idx].URL)
			out[idx].Excerpt = excerpt
			results[idx] = ItemResult{
				Index:    idx,
				URL:      out[idx].URL,
				Skipped:  skipped,
				Err:      err,
				Duration: time.Since(started),
			}
			ran[idx] = true
		}); err != nil {
			break
		}
	}
	pool.Wait()

	var report Report
	for _, idx := range pending {
		if !ran[idx] {
			continue
		}
		res := results[idx]
		switch {
		case res.Skipped:
			report.Skipped++
		case res.Err != nil:
			if ctx.Err() != nil && errors.Is(res.Err, ctx.Err()) {
				continue
			}
			report.Failed++
		default:
			report.Enriched++
		}
		if observe != nil {
			observe(res)
		}
	}
	return out, report, ctx.Err()
}

func (e *Enricher) excerpt(ctx context.Context, rawURL string) (string, bool, error) {
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() {
		return "", false, fmt.Errorf("%w: url %q is not absolute", fetcher.ErrInvalidRequest, rawURL)
	}
	if e.robots != nil && !e.robots.Allowed(ctx, target) {
		return "", true, ErrDisallowed
	}
	if err := e.limiter.Wait(ctx, target.Host); err != nil {
		return "", false, err
	}

	page, err := e.fetcher.Fetch(ctx, fetcher.Request{
		URL:       rawURL,
		Timeout:   e.opts.Timeout,
		UserAgent: e.opts.UserAgent,
	})
	if err != nil {
		return "", false, err
	}
	return Excerpt(page.Doc, e.opts.ExcerptSelector, e.opts.ExcerptLength), false, nil
}

// Excerpt returns the first non-empty text matched by selector, truncated to n runes.
func Excerpt(doc *goquery.Document, selector string, n int) string {
	if doc == nil {
		return ""
	}
	var text string
	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text = extract.NormalizeText(sel.Text())
		return text == ""
	})
	return extract.Truncate(text, n)
}
