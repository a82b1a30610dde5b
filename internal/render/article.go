// Package render turns article URLs into displayable documents.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"html/template"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"vollahub/internal/fetcher"
)

// Mode selects a rendering strategy.
type Mode string

const (
	ModeFormatted Mode = "formatted"
	ModeBrowser   Mode = "browser"
	ModeMarkdown  Mode = "markdown"
)

// ParseMode maps a user supplied name to a Mode. Empty selects ModeFormatted.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFormatted:
		return ModeFormatted, nil
	case ModeBrowser:
		return ModeBrowser, nil
	case ModeMarkdown:
		return ModeMarkdown, nil
	}
	return "", fmt.Errorf("unknown render mode %q", s)
}

// Renderer produces a document for a URL.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

const (
	contentSelector = "article, .content, main"

	notFoundHTML = "<p>Kein Inhalt gefunden</p>"
	errorHTML    = "<p>Fehler beim Laden des Artikels: %s</p>"
)

var pageTemplate = template.Must(template.New("article").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body {
            font-family: -apple-system, system-ui, sans-serif;
            padding: 16px;
            line-height: 1.6;
            color: #333;
        }
        img {
            max-width: 100%;
            height: auto;
        }
        a {
            color: #2196F3;
            text-decoration: none;
        }
        pre {
            background: #f5f5f5;
            padding: 12px;
            border-radius: 4px;
            overflow-x: auto;
        }
        code {
            background: #f5f5f5;
            padding: 2px 6px;
            border-radius: 3px;
            font-family: monospace;
        }
        table {
            width: 100%;
            border-collapse: collapse;
            margin: 16px 0;
        }
        th, td {
            border: 1px solid #ddd;
            padding: 8px;
            text-align: left;
        }
        th {
            background: #f5f5f5;
        }
    </style>
</head>
<body>
{{.}}
</body>
</html>
`))

// ArticleOptions configures the article fetch.
type ArticleOptions struct {
	UserAgent string
	Timeout   time.Duration
}

// ArticleRenderer fetches a page, keeps its main content and wraps it into
// a standalone document with a readable stylesheet.
type ArticleRenderer struct {
	fetcher fetcher.Fetcher
	opts    ArticleOptions
}

// NewArticleRenderer builds an ArticleRenderer.
func NewArticleRenderer(f fetcher.Fetcher, opts ArticleOptions) *ArticleRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0"
	}
	return &ArticleRenderer{fetcher: f, opts: opts}
}

// Content returns the inner HTML of the first article, .content or main
// element, falling back to body. Failures are rendered as an error paragraph
// and also returned as err.
func (r *ArticleRenderer) Content(ctx context.Context, url string) (string, error) {
	page, err := r.fetcher.Fetch(ctx, fetcher.Request{
		URL:       url,
		Timeout:   r.opts.Timeout,
		UserAgent: r.opts.UserAgent,
	})
	if err != nil {
		return ErrorHTML(err), err
	}
	return MainContent(page.Doc), nil
}

// Render returns the formatted standalone page for url.
func (r *ArticleRenderer) Render(ctx context.Context, url string) (string, error) {
	content, err := r.Content(ctx, url)
	page, fmtErr := FormatPage(content)
	if fmtErr != nil {
		return "", fmtErr
	}
	return page, err
}

// MainContent extracts the inner HTML of the main content element of doc.
func MainContent(doc *goquery.Document) string {
	if doc == nil {
		return notFoundHTML
	}
	sel := doc.Find(contentSelector).First()
	if sel.Length() == 0 {
		sel = doc.Find("body").First()
	}
	if sel.Length() == 0 {
		return notFoundHTML
	}
	inner, err := sel.Html()
	if err != nil || strings.TrimSpace(inner) == "" {
		return notFoundHTML
	}
	return inner
}

// ErrorHTML renders err as a user-facing paragraph.
func ErrorHTML(err error) string {
	return fmt.Sprintf(errorHTML, html.EscapeString(err.Error()))
}

// FormatPage wraps an HTML fragment into the standalone article document.
func FormatPage(content string) (string, error) {
	var buf bytes.Buffer
	// content is markup taken from the fetched page
	if err := pageTemplate.Execute(&buf, template.HTML(content)); err != nil {
		return "", fmt.Errorf("format article: %w", err)
	}
	return buf.String(), nil
}
