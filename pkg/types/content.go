package types

import (
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// CrawlKind identifies one of the configured crawl pipelines.
type CrawlKind string

const (
	KindSiteMenu    CrawlKind = "site-menu"
	KindBlogListing CrawlKind = "blog-listing"
	KindWikiByPage  CrawlKind = "wiki-by-page"
	KindWikiFull    CrawlKind = "wiki-full-crawl"
)

// AllKinds lists the crawl kinds in presentation order.
func AllKinds() []CrawlKind {
	return []CrawlKind{KindSiteMenu, KindBlogListing, KindWikiByPage, KindWikiFull}
}

// Valid reports whether k names a known crawl kind.
func (k CrawlKind) Valid() bool {
	switch k {
	case KindSiteMenu, KindBlogListing, KindWikiByPage, KindWikiFull:
		return true
	}
	return false
}

// MaxLevel caps the inferred menu nesting depth.
const MaxLevel = 3

// ContentEntry is the normalised unit handed to the presentation layer.
type ContentEntry struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt,omitempty"`
	Date    string `json:"date,omitempty"`
	Level   int    `json:"level"`
}

// LinkCandidate is a raw extraction result before filtering and dedup.
type LinkCandidate struct {
	Href    string
	Text    string
	Date    string
	Excerpt string
	Element *goquery.Selection
}

// Page represents a fetched and parsed HTML document.
type Page struct {
	URL        *url.URL
	FinalURL   *url.URL
	StatusCode int
	Doc        *goquery.Document
	FetchedAt  time.Time
	Latency    time.Duration
}

// Base returns the URL relative links should be resolved against.
func (p *Page) Base() *url.URL {
	if p == nil {
		return nil
	}
	if p.FinalURL != nil {
		return p.FinalURL
	}
	return p.URL
}

// Outcome is the terminal state of a crawl run.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Stats counts what happened at each stage of a run.
type Stats struct {
	Candidates     int           `json:"candidates"`
	Accepted       int           `json:"accepted"`
	Duplicates     int           `json:"duplicates"`
	Enriched       int           `json:"enriched"`
	EnrichFailures int           `json:"enrich_failures"`
	Duration       time.Duration `json:"duration"`
}

// Result aggregates the outcome of one crawl invocation.
type Result struct {
	Kind    CrawlKind      `json:"kind"`
	Outcome Outcome        `json:"outcome"`
	Entries []ContentEntry `json:"entries"`
	Err     error          `json:"-"`
	Stats   Stats          `json:"stats"`
}
