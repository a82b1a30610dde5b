// Package extract turns a parsed page into candidate links using declarative
// selector rules. It never filters or deduplicates.
package extract

import (
	"fmt"
	"iter"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"vollahub/pkg/types"
)

// Rule yields candidates from a document. Every call rescans the document.
type Rule interface {
	Candidates(doc *goquery.Document, base *url.URL) iter.Seq[types.LinkCandidate]
	Validate() error
}

// Extract runs rule against the page, resolving hrefs against the page base
// (or a <base href> element when the document declares one).
func Extract(page *types.Page, rule Rule) iter.Seq[types.LinkCandidate] {
	if page == nil || page.Doc == nil || rule == nil {
		return func(func(types.LinkCandidate) bool) {}
	}
	return rule.Candidates(page.Doc, documentBase(page.Doc, page.Base()))
}

// AnchorRule selects anchors directly.
type AnchorRule struct {
	Selector string
}

// Validate reports whether the selector compiles.
func (r AnchorRule) Validate() error {
	return validateSelectors(map[string]string{"selector": r.Selector}, "selector")
}

// Candidates yields one candidate per matched anchor, in document order.
func (r AnchorRule) Candidates(doc *goquery.Document, base *url.URL) iter.Seq[types.LinkCandidate] {
	return func(yield func(types.LinkCandidate) bool) {
		if doc == nil {
			return
		}
		doc.Find(r.Selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			return yield(types.LinkCandidate{
				Href:    AbsHref(sel, base),
				Text:    NormalizeText(sel.Text()),
				Element: sel,
			})
		})
	}
}

// BlockRule selects container blocks that each describe one item, such as a
// blog teaser: a heading, a link, a date line and a paragraph.
type BlockRule struct {
	Container     string
	Title         string
	Link          string
	Date          string
	Excerpt       string
	ExcerptLength int

	// LinkMustContain marks a found link as unusable unless it contains the
	// substring; SynthesizeURL then builds one from the title.
	LinkMustContain string
	SynthesizeURL   func(title string) string
}

// Validate reports whether every configured selector compiles.
func (r BlockRule) Validate() error {
	return validateSelectors(map[string]string{
		"container": r.Container,
		"title":     r.Title,
		"link":      r.Link,
		"date":      r.Date,
		"excerpt":   r.Excerpt,
	}, "container", "title")
}

// Candidates yields one candidate per block that has a title.
func (r BlockRule) Candidates(doc *goquery.Document, base *url.URL) iter.Seq[types.LinkCandidate] {
	return func(yield func(types.LinkCandidate) bool) {
		if doc == nil {
			return
		}
		doc.Find(r.Container).EachWithBreak(func(_ int, block *goquery.Selection) bool {
			title := NormalizeText(block.Find(r.Title).First().Text())
			if title == "" {
				return true
			}

			href := ""
			if r.Link != "" {
				href = AbsHref(block.Find(r.Link).First(), base)
			}
			if href == "" || (r.LinkMustContain != "" && !strings.Contains(href, r.LinkMustContain)) {
				if r.SynthesizeURL != nil {
					href = r.SynthesizeURL(title)
				}
			}

			cand := types.LinkCandidate{
				Href:    href,
				Text:    title,
				Element: block,
			}
			if r.Date != "" {
				cand.Date = NormalizeText(block.Find(r.Date).First().Text())
			}
			if r.Excerpt != "" {
				cand.Excerpt = Truncate(NormalizeText(block.Find(r.Excerpt).First().Text()), r.ExcerptLength)
			}
			return yield(cand)
		})
	}
}

// AbsHref resolves the href attribute of the first element in sel.
// Missing or unparsable hrefs yield "".
func AbsHref(sel *goquery.Selection, base *url.URL) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	raw, ok := sel.Attr("href")
	if !ok {
		return ""
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base == nil {
		if !ref.IsAbs() {
			return ""
		}
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// NormalizeText trims and collapses runs of whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate keeps at most n runes of s. n <= 0 disables truncation.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func documentBase(doc *goquery.Document, fallback *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return fallback
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return fallback
	}
	if fallback == nil {
		if ref.IsAbs() {
			return ref
		}
		return nil
	}
	return fallback.ResolveReference(ref)
}

func validateSelectors(selectors map[string]string, required ...string) error {
	for _, name := range required {
		if strings.TrimSpace(selectors[name]) == "" {
			return fmt.Errorf("%s selector must be set", name)
		}
	}
	for name, sel := range selectors {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return fmt.Errorf("%s selector %q: %w", name, sel, err)
		}
	}
	return nil
}
