package render

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// MarkdownRenderer fetches the main content of an article and converts it
// into a Markdown reader view.
type MarkdownRenderer struct {
	article *ArticleRenderer
}

// NewMarkdownRenderer builds a MarkdownRenderer on top of an article renderer.
func NewMarkdownRenderer(article *ArticleRenderer) *MarkdownRenderer {
	return &MarkdownRenderer{article: article}
}

// Render returns the Markdown view of url.
func (r *MarkdownRenderer) Render(ctx context.Context, url string) (string, error) {
	content, err := r.article.Content(ctx, url)
	if err != nil {
		return "", err
	}
	return Markdown(content)
}

var skippedTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"iframe":   {},
	"nav":      {},
	"form":     {},
}

// Markdown converts an HTML document or fragment to Markdown.
func Markdown(fragment string) (string, error) {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	body := findElement(root, "body")
	if body == nil {
		body = root
	}
	w := &mdWriter{}
	for child := body.FirstChild; child != nil; child = child.NextSibling {
		w.node(child)
	}
	return collapseBlankLines(w.String()), nil
}

type listFrame struct {
	ordered bool
	index   int
}

type mdWriter struct {
	b         strings.Builder
	last      rune
	newlines  int
	lists     []listFrame
	preformat bool
	pending   bool
}

func (w *mdWriter) String() string { return w.b.String() }

func (w *mdWriter) write(s string) {
	if s == "" {
		return
	}
	w.b.WriteString(s)
	for _, r := range s {
		w.last = r
		if r == '\n' {
			w.newlines++
		} else {
			w.newlines = 0
		}
	}
}

func (w *mdWriter) space() {
	if w.b.Len() == 0 || w.newlines > 0 || w.last == ' ' {
		return
	}
	w.write(" ")
}

// inlineText writes inline content, keeping one space where the source
// had whitespace between inline runs.
func (w *mdWriter) inlineText(s string) {
	if w.pending {
		w.space()
	}
	w.pending = false
	w.write(s)
}

func (w *mdWriter) lineBreak() {
	if w.newlines == 0 {
		w.write("\n")
	}
}

func (w *mdWriter) blankLine() {
	for w.newlines < 2 {
		w.write("\n")
	}
}

func (w *mdWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.node(c)
	}
}

func (w *mdWriter) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if w.preformat {
			w.write(n.Data)
			return
		}
		text := strings.Join(strings.Fields(n.Data), " ")
		if text == "" {
			w.pending = w.pending || n.Data != ""
			return
		}
		if startsWithSpace(n.Data) {
			w.pending = true
		}
		w.inlineText(text)
		w.pending = endsWithSpace(n.Data)
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if _, skip := skippedTags[tag]; skip {
			return
		}
		w.element(tag, n)
	default:
		w.children(n)
	}
}

func (w *mdWriter) element(tag string, n *html.Node) {
	switch tag {
	case "br":
		w.write("  \n")
	case "hr":
		w.blankLine()
		w.write("---")
		w.blankLine()
	case "p", "div", "section", "article", "main", "header", "footer", "blockquote", "figure":
		w.blankLine()
		w.children(n)
		w.blankLine()
	case "h1", "h2", "h3", "h4", "h5", "h6":
		w.blankLine()
		w.write(strings.Repeat("#", int(tag[1]-'0')) + " ")
		w.write(textContent(n))
		w.blankLine()
	case "strong", "b":
		w.inline("**", n)
	case "em", "i":
		w.inline("_", n)
	case "code":
		if w.preformat {
			w.children(n)
			return
		}
		if text := textContent(n); text != "" {
			w.inlineText("`" + text + "`")
		}
	case "pre":
		w.blankLine()
		w.write("```\n")
		w.preformat = true
		w.children(n)
		w.preformat = false
		w.lineBreak()
		w.write("```")
		w.blankLine()
	case "a":
		href := attr(n, "href")
		text := textContent(n)
		if text == "" {
			text = href
		}
		if text == "" {
			return
		}
		if href == "" || strings.HasPrefix(href, "#") {
			w.inlineText(text)
		} else {
			w.inlineText("[" + text + "](" + href + ")")
		}
	case "img":
		if src := attr(n, "src"); src != "" {
			w.inlineText("![" + attr(n, "alt") + "](" + src + ")")
		}
	case "ul", "ol":
		w.lists = append(w.lists, listFrame{ordered: tag == "ol"})
		if len(w.lists) == 1 {
			w.blankLine()
		} else {
			w.lineBreak()
		}
		w.children(n)
		w.lists = w.lists[:len(w.lists)-1]
		if len(w.lists) == 0 {
			w.blankLine()
		}
	case "li":
		if len(w.lists) == 0 {
			w.lists = append(w.lists, listFrame{})
		}
		frame := &w.lists[len(w.lists)-1]
		frame.index++
		w.lineBreak()
		marker := "- "
		if frame.ordered {
			marker = fmt.Sprintf("%d. ", frame.index)
		}
		w.write(strings.Repeat("  ", len(w.lists)-1) + marker)
		w.children(n)
		w.lineBreak()
	case "table":
		w.blankLine()
		w.write(tableMarkdown(n))
		w.blankLine()
	default:
		w.children(n)
	}
}

func (w *mdWriter) inline(marker string, n *html.Node) {
	text := textContent(n)
	if text == "" {
		return
	}
	w.inlineText(marker + text + marker)
}

type tableRow struct {
	cells  []string
	header bool
}

func tableMarkdown(table *html.Node) string {
	rows := tableRows(table, false, nil)
	if len(rows) == 0 {
		return ""
	}
	head := 0
	for i, row := range rows {
		if row.header {
			head = i
			break
		}
	}
	cols := len(rows[head].cells)

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(cells[i], "|", `\|`)
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}
	writeRow(rows[head].cells)
	b.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
	for i, row := range rows {
		if i != head {
			writeRow(row.cells)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func tableRows(n *html.Node, header bool, rows []tableRow) []tableRow {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch strings.ToLower(c.Data) {
		case "thead":
			rows = tableRows(c, true, rows)
		case "table":
			// nested tables are flattened into their cell text
		case "tr":
			row := tableRow{header: header}
			for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
				if cell.Type != html.ElementNode {
					continue
				}
				switch strings.ToLower(cell.Data) {
				case "th":
					row.header = true
					row.cells = append(row.cells, textContent(cell))
				case "td":
					row.cells = append(row.cells, textContent(cell))
				}
			}
			if len(row.cells) > 0 {
				rows = append(rows, row)
			}
		default:
			rows = tableRows(c, header, rows)
		}
	}
	return rows
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func textContent(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				parts = append(parts, text)
			}
		case html.ElementNode:
			if _, skip := skippedTags[strings.ToLower(n.Data)]; skip {
				return
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\r\n") != s
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\r\n") != s
}
