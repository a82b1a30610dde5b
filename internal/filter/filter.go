// Package filter decides which extracted candidates are content links and
// infers their menu nesting level.
package filter

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"vollahub/pkg/types"
)

// Reasons a candidate can be rejected.
const (
	ReasonEmptyHref = "empty_href"
	ReasonPrefix    = "prefix"
	ReasonRequired  = "required"
	ReasonBlocked   = "blocked"
	ReasonShortText = "short_text"
)

// Rules is a conjunction of link predicates.
type Rules struct {
	BasePrefix    string
	Required      []string
	Blocked       []string
	MinTextLength int

	// AnyScheme treats http and https prefixes as equal, for hosts that
	// redirect between them.
	AnyScheme bool
}

// Accept reports whether the candidate passes every predicate.
func (r Rules) Accept(c types.LinkCandidate) bool {
	return r.Check(c) == ""
}

// Check returns the first failed predicate, or "" when the candidate passes.
func (r Rules) Check(c types.LinkCandidate) string {
	href := c.Href
	if href == "" {
		return ReasonEmptyHref
	}
	if r.BasePrefix != "" && !r.hasPrefix(href) {
		return ReasonPrefix
	}
	for _, s := range r.Required {
		if !strings.Contains(href, s) {
			return ReasonRequired
		}
	}
	for _, s := range r.Blocked {
		if s != "" && strings.Contains(href, s) {
			return ReasonBlocked
		}
	}
	if utf8.RuneCountInString(strings.TrimSpace(c.Text)) < r.MinTextLength {
		return ReasonShortText
	}
	return ""
}

func (r Rules) hasPrefix(href string) bool {
	if strings.HasPrefix(href, r.BasePrefix) {
		return true
	}
	if !r.AnyScheme {
		return false
	}
	return strings.HasPrefix(stripScheme(href), stripScheme(r.BasePrefix))
}

func stripScheme(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		return s[i+3:]
	}
	return s
}

// LevelOf counts ul/ol ancestors of sel, capped at types.MaxLevel.
func LevelOf(sel *goquery.Selection) int {
	if sel == nil || sel.Length() == 0 {
		return 0
	}
	level := sel.First().ParentsFiltered("ul, ol").Length()
	if level > types.MaxLevel {
		return types.MaxLevel
	}
	return level
}
