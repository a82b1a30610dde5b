package extract

import (
	"regexp"
	"strings"
)

var (
	slugDisallowed = regexp.MustCompile(`[^a-z0-9äöüß\s-]`)
	slugSpaces     = regexp.MustCompile(`\s+`)
	umlauts        = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")
)

// Slugify lowercases the title, strips everything except ASCII letters,
// digits, German umlauts, whitespace and hyphens, turns whitespace runs into
// hyphens and finally transliterates the umlauts.
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugDisallowed.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	return umlauts.Replace(s)
}

// SlugURL returns a synthesizer that appends the slug and a trailing slash to prefix.
func SlugURL(prefix string) func(string) string {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return func(title string) string {
		return prefix + Slugify(title) + "/"
	}
}
