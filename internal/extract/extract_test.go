package extract

import (
	"net/url"
	"slices"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vollahub/pkg/types"
)

const menuHTML = `<html><body>
<header><a href="/de/">Start</a></header>
<nav>
  <ul>
    <li><a href="/de/phone/">  Volla
       Phone </a>
      <ul><li><a href="x23/">X23</a></li></ul>
    </li>
  </ul>
</nav>
<div class="menu"><a>no href</a></div>
<footer><a href="/de/impressum/">Impressum</a></footer>
</body></html>`

const blogHTML = `<html><body>
<div class="blog-entry">
  <h1>Volla OS 3.0 ist da</h1>
  <a href="/de/blog/volla-os-3/">Weiterlesen</a>
  <div class="blog-entry-date">12. März 2024</div>
  <div class="blog-entry-body"><p>Die neue Version bringt viele Verbesserungen.</p><p>Zweiter</p></div>
</div>
<div class="blog-entry">
  <h1>Größere Änderungen für Übersicht</h1>
  <a href="https://example.com/elsewhere">extern</a>
</div>
<div class="blog-entry">
  <h1>Ohne Link</h1>
</div>
<div class="blog-entry">
  <p>no heading, skipped</p>
</div>
</body></html>`

func mustPage(t *testing.T, raw, body string) *types.Page {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return &types.Page{URL: u, FinalURL: u, Doc: doc}
}

func TestAnchorRuleResolvesAndNormalizes(t *testing.T) {
	t.Parallel()

	page := mustPage(t, "https://volla.online/de/phone/", menuHTML)
	rule := AnchorRule{Selector: "nav a, .menu a, header a"}
	require.NoError(t, rule.Validate())

	got := slices.Collect(Extract(page, rule))
	require.Len(t, got, 4)

	// goquery returns a union selection in document order
	assert.Equal(t, "https://volla.online/de/", got[0].Href)
	assert.Equal(t, "Start", got[0].Text)
	assert.Equal(t, "https://volla.online/de/phone/", got[1].Href)
	assert.Equal(t, "Volla Phone", got[1].Text)
	assert.Equal(t, "https://volla.online/de/phone/x23/", got[2].Href)
	assert.Equal(t, "", got[3].Href)
	assert.NotNil(t, got[1].Element)
}

func TestExtractIsRestartable(t *testing.T) {
	t.Parallel()

	page := mustPage(t, "https://volla.online/de/", menuHTML)
	seq := Extract(page, AnchorRule{Selector: "nav a"})

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, len(first), len(second))

	// early break stops the scan
	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestExtractHonoursBaseElement(t *testing.T) {
	t.Parallel()

	page := mustPage(t, "https://volla.online/de/",
		`<html><head><base href="https://wiki.volla.online/"></head><body><a href="index.php?title=Hauptseite">Hauptseite</a></body></html>`)
	got := slices.Collect(Extract(page, AnchorRule{Selector: "a"}))
	require.Len(t, got, 1)
	assert.Equal(t, "https://wiki.volla.online/index.php?title=Hauptseite", got[0].Href)
}

func TestBlockRuleSynthesizesMissingLinks(t *testing.T) {
	t.Parallel()

	page := mustPage(t, "https://volla.online/de/blog/", blogHTML)
	rule := BlockRule{
		Container:       "div.blog-entry",
		Title:           "h1",
		Link:            "a[href]",
		Date:            ".blog-entry-date",
		Excerpt:         ".blog-entry-body p",
		ExcerptLength:   20,
		LinkMustContain: "/de/blog/",
		SynthesizeURL:   SlugURL("https://volla.online/de/blog"),
	}
	require.NoError(t, rule.Validate())

	got := slices.Collect(Extract(page, rule))
	require.Len(t, got, 3)

	assert.Equal(t, "Volla OS 3.0 ist da", got[0].Text)
	assert.Equal(t, "https://volla.online/de/blog/volla-os-3/", got[0].Href)
	assert.Equal(t, "12. März 2024", got[0].Date)
	assert.Equal(t, "Die neue Version bri", got[0].Excerpt)

	assert.Equal(t, "https://volla.online/de/blog/groessere-aenderungen-fuer-uebersicht/", got[1].Href)
	assert.Equal(t, "https://volla.online/de/blog/ohne-link/", got[2].Href)
	assert.Empty(t, got[2].Date)
	assert.Empty(t, got[2].Excerpt)
}

func TestValidateRejectsBadSelectors(t *testing.T) {
	t.Parallel()

	assert.Error(t, AnchorRule{}.Validate())
	assert.Error(t, AnchorRule{Selector: "a[href"}.Validate())
	assert.Error(t, BlockRule{Container: "div", Title: ""}.Validate())
	assert.NoError(t, BlockRule{Container: "div.blog-entry", Title: "h1"}.Validate())
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Volla Phone X23", "volla-phone-x23"},
		{"Größe & Übersicht!", "groesse-uebersicht"},
		{"  Fußball   im   Büro ", "fussball-im-buero"},
		{"Volla-OS: Tipps", "volla-os-tipps"},
		{"Ärger", "aerger"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "äöü", Truncate("äöüß", 3))
	assert.Equal(t, "abc", Truncate("abc", 150))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
