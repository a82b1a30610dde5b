package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"vollahub/internal/crawler"
	"vollahub/internal/extract"
	"vollahub/internal/hub"
	"vollahub/pkg/types"
)

func newCrawlCommand() *cobra.Command {
	var (
		page    string
		asJSON  bool
		query   string
		kindsOK = make([]string, 0, len(types.AllKinds()))
	)
	for _, k := range types.AllKinds() {
		kindsOK = append(kindsOK, string(k))
	}

	cmd := &cobra.Command{
		Use:       "crawl <kind>",
		Short:     "Run one crawl and print the entries",
		Long:      "Run one crawl and print the entries. Kinds: " + strings.Join(kindsOK, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: kindsOK,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := types.CrawlKind(args[0])
			if !kind.Valid() {
				return fmt.Errorf("%w: %q", crawler.ErrUnknownKind, args[0])
			}
			d, err := loadDeps()
			if err != nil {
				return err
			}
			defer func() { _ = d.log.Sync() }()

			orch, err := d.orchestrator(crawler.NewLogSink(d.log))
			if err != nil {
				return err
			}
			res := orch.Run(cmd.Context(), kind, crawler.RunOptions{Page: page})
			res.Entries = hub.Filter(res.Entries, query)

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeResultJSON(out, res); err != nil {
					return err
				}
			} else {
				writeResultTable(out, res)
			}
			switch res.Outcome {
			case types.OutcomeFailed, types.OutcomeCancelled:
				return fmt.Errorf("crawl %s %s: %w", kind, res.Outcome, res.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&page, "page", "", "wiki page name for wiki-by-page (default Hauptseite)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().StringVarP(&query, "query", "q", "", "only keep entries whose title or excerpt contains the text")
	return cmd
}

type resultJSON struct {
	types.Result
	Error string `json:"error,omitempty"`
}

func writeResultJSON(w io.Writer, res types.Result) error {
	payload := resultJSON{Result: res}
	if res.Err != nil {
		payload.Error = res.Err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(payload)
}

func writeResultTable(w io.Writer, res types.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.Style().Title.Format = text.FormatDefault
	t.SetTitle(string(res.Kind))
	t.AppendHeader(table.Row{"#", "Title", "URL", "Date", "Level", "Excerpt"})
	for i, e := range res.Entries {
		title := e.Title
		if e.Level > 0 {
			title = strings.Repeat("  ", e.Level-1) + title
		}
		t.AppendRow(table.Row{i + 1, title, e.URL, e.Date, e.Level, extract.Truncate(e.Excerpt, 60)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.AppendFooter(table.Row{"", footer(res), "", "", "", ""})
	t.Render()
}

func footer(res types.Result) string {
	switch res.Outcome {
	case types.OutcomeDone:
		return fmt.Sprintf("%d Einträge geladen (%s)", len(res.Entries), res.Stats.Duration.Round(time.Millisecond))
	case types.OutcomeEmpty:
		return hub.MessageEmpty
	case types.OutcomeCancelled:
		return hub.MessageCancelled
	default:
		return "Fehler beim Laden"
	}
}
