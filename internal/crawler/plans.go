package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"vollahub/internal/config"
	"vollahub/internal/dedup"
	"vollahub/internal/extract"
	"vollahub/internal/fetcher"
	"vollahub/internal/filter"
	"vollahub/pkg/types"
)

// Order is the sort applied to a finished entry list.
type Order int

const (
	OrderInsertion Order = iota
	OrderLevel
	OrderTitle
)

func (o Order) String() string {
	switch o {
	case OrderLevel:
		return "level"
	case OrderTitle:
		return "title"
	default:
		return "insertion"
	}
}

// Plan is the rule table for one crawl kind.
type Plan struct {
	Kind      types.CrawlKind
	Enabled   bool
	StartURL  string
	UserAgent string
	Timeout   time.Duration
	Redirects fetcher.RedirectPolicy

	// PageParam appends a page name to StartURL; DefaultPage is used when
	// the caller names none.
	PageParam   bool
	DefaultPage string

	Rule       extract.Rule
	Filter     filter.Rules
	Key        dedup.KeyMode
	Levels     bool
	Order      Order
	Enrich     bool
	MaxEntries int

	// Seed, when set, yields an entry placed first and pre-marked as seen.
	Seed func(page, pageURL string) types.ContentEntry
}

// Target resolves the start URL and the decoded page name for a run.
func (p Plan) Target(page string) (string, string) {
	if !p.PageParam {
		return p.StartURL, ""
	}
	page = strings.TrimSpace(page)
	if page == "" {
		page = p.DefaultPage
	}
	return p.StartURL + EncodePageName(page), DecodePageName(page)
}

// Validate checks that the plan can run.
func (p Plan) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
	if p.Rule == nil {
		return fmt.Errorf("plan %s: extraction rule missing", p.Kind)
	}
	if err := p.Rule.Validate(); err != nil {
		return fmt.Errorf("plan %s: %w", p.Kind, err)
	}
	if p.PageParam && strings.TrimSpace(p.DefaultPage) == "" {
		return fmt.Errorf("plan %s: default page missing", p.Kind)
	}
	return nil
}

// EncodePageName prepares a MediaWiki title for the title= query parameter.
// Names that already contain percent escapes are used as given.
func EncodePageName(page string) string {
	if strings.Contains(page, "%") {
		return page
	}
	return url.QueryEscape(strings.ReplaceAll(page, " ", "_"))
}

// DecodePageName returns the human-readable form of a page name.
func DecodePageName(page string) string {
	decoded, err := url.PathUnescape(page)
	if err != nil {
		return page
	}
	return decoded
}

const (
	menuSelector = "nav a, .menu a, header a"
	wikiSelector = "a[href*='index.php?title=']"

	wikiWelcome = "Herzlich willkommen im Volla Phone Wiki"
)

// Plans builds the rule table for every crawl kind from configuration.
func Plans(cfg config.Config) (map[types.CrawlKind]Plan, error) {
	src := cfg.Sources
	redirects := fetcher.RedirectNone
	if cfg.Fetch.FollowRedirects {
		redirects = fetcher.RedirectFollow
	}

	plans := map[types.CrawlKind]Plan{
		types.KindSiteMenu: {
			Kind:       types.KindSiteMenu,
			Enabled:    src.SiteMenu.Enabled,
			StartURL:   src.SiteMenu.StartURL,
			UserAgent:  src.SiteMenu.UserAgent,
			Timeout:    src.SiteMenu.Timeout.Duration,
			Redirects:  redirects,
			Rule:       extract.AnchorRule{Selector: orDefault(src.SiteMenu.Selector, menuSelector)},
			Filter:     rulesFor(src.SiteMenu, false),
			Key:        dedup.ByURL,
			Levels:     true,
			Order:      OrderLevel,
			MaxEntries: src.SiteMenu.MaxEntries,
		},
		types.KindBlogListing: {
			Kind:      types.KindBlogListing,
			Enabled:   src.Blog.Enabled,
			StartURL:  src.Blog.StartURL,
			UserAgent: src.Blog.UserAgent,
			Timeout:   src.Blog.Timeout.Duration,
			Redirects: fetcher.RedirectFollow,
			Rule: extract.BlockRule{
				Container:       orDefault(src.Blog.Selector, "div.blog-entry"),
				Title:           "h1",
				Link:            "a[href]",
				Date:            ".blog-entry-date",
				Excerpt:         ".blog-entry-body p",
				ExcerptLength:   cfg.Enrich.ExcerptLength,
				LinkMustContain: src.Blog.BasePrefix,
				SynthesizeURL:   extract.SlugURL(src.Blog.BasePrefix),
			},
			Filter:     rulesFor(src.Blog, false),
			Key:        dedup.ByURL,
			Order:      OrderInsertion,
			MaxEntries: src.Blog.MaxEntries,
		},
		types.KindWikiByPage: {
			Kind:        types.KindWikiByPage,
			Enabled:     src.WikiByPage.Enabled,
			StartURL:    src.WikiByPage.StartURL,
			UserAgent:   src.WikiByPage.UserAgent,
			Timeout:     src.WikiByPage.Timeout.Duration,
			Redirects:   redirects,
			PageParam:   true,
			DefaultPage: src.WikiByPage.DefaultPage,
			Rule:        extract.AnchorRule{Selector: orDefault(src.WikiByPage.Selector, wikiSelector)},
			Filter:      rulesFor(src.WikiByPage, true),
			Key:         dedup.ByTitle,
			Order:       OrderInsertion,
			MaxEntries:  src.WikiByPage.MaxEntries,
			Seed: func(page, pageURL string) types.ContentEntry {
				return types.ContentEntry{Title: page, URL: pageURL}
			},
		},
		types.KindWikiFull: {
			Kind:       types.KindWikiFull,
			Enabled:    src.WikiFull.Enabled,
			StartURL:   src.WikiFull.StartURL,
			UserAgent:  src.WikiFull.UserAgent,
			Timeout:    src.WikiFull.Timeout.Duration,
			Redirects:  redirects,
			Rule:       extract.AnchorRule{Selector: orDefault(src.WikiFull.Selector, wikiSelector)},
			Filter:     rulesFor(src.WikiFull, true),
			Key:        dedup.ByTitle,
			Order:      OrderTitle,
			Enrich:     true,
			MaxEntries: src.WikiFull.MaxEntries,
			Seed: func(_, pageURL string) types.ContentEntry {
				title := DecodePageName(src.WikiFull.DefaultPage)
				if title == "" {
					title = "Hauptseite"
				}
				return types.ContentEntry{Title: title, URL: pageURL, Excerpt: wikiWelcome}
			},
		},
	}

	for kind, plan := range plans {
		if !plan.Enabled {
			continue
		}
		if err := plan.Validate(); err != nil {
			return nil, fmt.Errorf("plan %s: %w", kind, err)
		}
	}
	return plans, nil
}

func rulesFor(src config.SourceConfig, anyScheme bool) filter.Rules {
	return filter.Rules{
		BasePrefix:    src.BasePrefix,
		Required:      append([]string(nil), src.Required...),
		Blocked:       append([]string(nil), src.Blocked...),
		MinTextLength: src.MinTextLength,
		AnyScheme:     anyScheme,
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
