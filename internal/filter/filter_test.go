package filter

import (
	"net/url"
	"slices"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vollahub/internal/extract"
	"vollahub/pkg/types"
)

var menuRules = Rules{
	BasePrefix:    "https://volla.online/de/",
	Blocked:       []string{"/blog", "#"},
	MinTextLength: 3,
}

var wikiRules = Rules{
	BasePrefix:    "http://wiki.volla.online/",
	Required:      []string{"index.php?title="},
	Blocked:       []string{"Spezial:", "Diskussion:", "action=", "&"},
	MinTextLength: 1,
	AnyScheme:     true,
}

func TestMenuRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cand types.LinkCandidate
		want string
	}{
		{"accepted", types.LinkCandidate{Href: "https://volla.online/de/phone/", Text: "Volla Phone"}, ""},
		{"two char text", types.LinkCandidate{Href: "https://volla.online/de/ok/", Text: "Ok"}, ReasonShortText},
		{"three char text", types.LinkCandidate{Href: "https://volla.online/de/faq/", Text: "FAQ"}, ""},
		{"blog path", types.LinkCandidate{Href: "https://volla.online/de/blog/", Text: "Blog"}, ReasonBlocked},
		{"fragment", types.LinkCandidate{Href: "https://volla.online/de/#kontakt", Text: "Kontakt"}, ReasonBlocked},
		{"other locale", types.LinkCandidate{Href: "https://volla.online/en/phone/", Text: "Phone"}, ReasonPrefix},
		{"other host", types.LinkCandidate{Href: "https://shop.example.com/de/", Text: "Shop"}, ReasonPrefix},
		{"empty href", types.LinkCandidate{Text: "Nothing"}, ReasonEmptyHref},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, menuRules.Check(tt.cand))
			assert.Equal(t, tt.want == "", menuRules.Accept(tt.cand))
		})
	}
}

func TestWikiRules(t *testing.T) {
	t.Parallel()

	base := "http://wiki.volla.online/index.php?title="
	assert.True(t, wikiRules.Accept(types.LinkCandidate{Href: base + "Volla_Phone", Text: "Volla Phone"}))
	assert.True(t, wikiRules.Accept(types.LinkCandidate{Href: "https://wiki.volla.online/index.php?title=FAQ", Text: "FAQ"}))
	assert.False(t, wikiRules.Accept(types.LinkCandidate{Href: base + "Spezial:Suche", Text: "Suche"}))
	assert.False(t, wikiRules.Accept(types.LinkCandidate{Href: base + "Diskussion:Hauptseite", Text: "Diskussion"}))
	assert.False(t, wikiRules.Accept(types.LinkCandidate{Href: base + "Hauptseite&action=edit", Text: "Bearbeiten"}))
	assert.False(t, wikiRules.Accept(types.LinkCandidate{Href: base + "Hauptseite", Text: "   "}))
	assert.False(t, wikiRules.Accept(types.LinkCandidate{Href: "http://wiki.volla.online/wiki/Foo", Text: "Foo"}))
}

func TestAcceptedCandidatesAlwaysMatchPrefix(t *testing.T) {
	t.Parallel()

	const body = `<html><body><nav>
<a href="/de/a/">Alpha</a><a href="https://volla.online/en/">English</a>
<a href="//evil.example/de/">Evil</a><a href="mailto:x@y.z">Mail</a>
<a href="javascript:void(0)">JS</a><a href="../../de/b/">Beta</a>
</nav></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	u, _ := url.Parse("https://volla.online/de/x/")
	page := &types.Page{URL: u, Doc: doc}

	var kept []string
	for c := range extract.Extract(page, extract.AnchorRule{Selector: "nav a"}) {
		if menuRules.Accept(c) {
			assert.True(t, strings.HasPrefix(c.Href, menuRules.BasePrefix), c.Href)
			kept = append(kept, c.Href)
		}
	}
	assert.Equal(t, []string{"https://volla.online/de/a/", "https://volla.online/de/b/"}, kept)
}

func TestLevelOf(t *testing.T) {
	t.Parallel()

	const body = `<html><body>
<a id="l0" href="#">zero</a>
<ul><li><a id="l1" href="#">one</a>
  <ol><li><a id="l2" href="#">two</a>
    <ul><li><a id="l3" href="#">three</a>
      <ul><li><a id="l4" href="#">four</a></li></ul>
    </li></ul>
  </li></ol>
</li></ul>
</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)

	var levels []int
	for _, id := range []string{"l0", "l1", "l2", "l3", "l4"} {
		levels = append(levels, LevelOf(doc.Find("#"+id)))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 3}, levels)
	assert.True(t, slices.IsSorted(levels), "level must not decrease with nesting depth")
	assert.Equal(t, 0, LevelOf(nil))
	assert.Equal(t, 0, LevelOf(doc.Find("#missing")))
}
