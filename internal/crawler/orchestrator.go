// Package crawler sequences fetch, extraction, filtering, dedup, enrichment
// and sorting for each crawl kind.
package crawler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"vollahub/internal/dedup"
	"vollahub/internal/enrich"
	"vollahub/internal/extract"
	"vollahub/internal/fetcher"
	"vollahub/internal/filter"
	"vollahub/pkg/types"
)

// Orchestrator runs crawl plans. It holds no per-run state, so one instance
// can serve any number of sequential or concurrent runs.
type Orchestrator struct {
	fetcher  fetcher.Fetcher
	enricher *enrich.Enricher
	plans    map[types.CrawlKind]Plan
	sink     Sink
}

// New builds an orchestrator. enricher may be nil when no plan enriches.
func New(f fetcher.Fetcher, enricher *enrich.Enricher, plans map[types.CrawlKind]Plan, sink Sink) *Orchestrator {
	if sink == nil {
		sink = NopSink{}
	}
	return &Orchestrator{fetcher: f, enricher: enricher, plans: plans, sink: sink}
}

// Plan returns the plan registered for kind.
func (o *Orchestrator) Plan(kind types.CrawlKind) (Plan, bool) {
	p, ok := o.plans[kind]
	return p, ok
}

// Kinds lists the enabled crawl kinds in presentation order.
func (o *Orchestrator) Kinds() []types.CrawlKind {
	var kinds []types.CrawlKind
	for _, k := range types.AllKinds() {
		if p, ok := o.plans[k]; ok && p.Enabled {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// RunOptions parameterise a single run.
type RunOptions struct {
	// Page names the wiki page for page-parameterised plans.
	Page  string
	RunID string
}

type run struct {
	o       *Orchestrator
	plan    Plan
	id      string
	started time.Time
	state   State
	stats   types.Stats
}

func (r *run) enter(state State, count int) {
	r.state = state
	r.o.sink.Emit(Event{
		Type:  EventTransition,
		Kind:  r.plan.Kind,
		RunID: r.id,
		State: state,
		Count: count,
		Time:  time.Now(),
	})
}

func (r *run) finish(outcome types.Outcome, entries []types.ContentEntry, err error) types.Result {
	if entries == nil {
		entries = []types.ContentEntry{}
	}
	r.stats.Duration = time.Since(r.started)
	final := StateDone
	if outcome == types.OutcomeFailed || outcome == types.OutcomeCancelled {
		final = StateFailed
	}
	r.state = final
	r.o.sink.Emit(Event{
		Type:     EventFinished,
		Kind:     r.plan.Kind,
		RunID:    r.id,
		State:    final,
		Outcome:  outcome,
		Count:    len(entries),
		Err:      err,
		Duration: r.stats.Duration,
		Time:     time.Now(),
	})
	return types.Result{
		Kind:    r.plan.Kind,
		Outcome: outcome,
		Entries: entries,
		Err:     err,
		Stats:   r.stats,
	}
}

func (r *run) abort(ctx context.Context, err error) types.Result {
	if ctx.Err() != nil {
		return r.finish(types.OutcomeCancelled, nil, fmt.Errorf("%s: %w", r.state, ctx.Err()))
	}
	return r.finish(types.OutcomeFailed, nil, &StageError{State: r.state, Err: err})
}

// Run executes one crawl. A failed root fetch yields OutcomeFailed with no
// entries; an empty final list yields OutcomeEmpty with ErrEmptyResult.
func (o *Orchestrator) Run(ctx context.Context, kind types.CrawlKind, opts RunOptions) types.Result {
	plan, ok := o.plans[kind]
	if !ok {
		return types.Result{Kind: kind, Outcome: types.OutcomeFailed, Entries: []types.ContentEntry{},
			Err: fmt.Errorf("%w: %q", ErrUnknownKind, kind)}
	}
	if !plan.Enabled {
		return types.Result{Kind: kind, Outcome: types.OutcomeFailed, Entries: []types.ContentEntry{},
			Err: fmt.Errorf("%w: %s", ErrDisabled, kind)}
	}

	r := &run{o: o, plan: plan, id: opts.RunID, started: time.Now(), state: StateIdle}
	startURL, page := plan.Target(opts.Page)

	r.enter(StateFetching, 0)
	root, err := o.fetcher.Fetch(ctx, fetcher.Request{
		URL:       startURL,
		Timeout:   plan.Timeout,
		UserAgent: plan.UserAgent,
		Redirects: plan.Redirects,
	})
	if err != nil {
		return r.abort(ctx, err)
	}

	r.enter(StateExtracting, 0)
	candidates := slices.Collect(extract.Extract(root, plan.Rule))
	r.stats.Candidates = len(candidates)
	if ctx.Err() != nil {
		return r.abort(ctx, ctx.Err())
	}

	r.enter(StateFiltering, len(candidates))
	accepted := make([]types.ContentEntry, 0, len(candidates))
	for _, c := range candidates {
		if !plan.Filter.Accept(c) {
			continue
		}
		entry := types.ContentEntry{
			Title:   c.Text,
			URL:     c.Href,
			Date:    c.Date,
			Excerpt: c.Excerpt,
		}
		if plan.Levels {
			entry.Level = filter.LevelOf(c.Element)
		}
		accepted = append(accepted, entry)
	}
	r.stats.Accepted = len(accepted)

	r.enter(StateDeduping, len(accepted))
	seen := dedup.New(plan.Key)
	if plan.Seed != nil {
		seen.Preseed(plan.Seed(page, startURL))
		if plan.PageParam {
			// links may repeat the requested name in its raw, encoded form
			seen.Mark(cmp.Or(strings.TrimSpace(opts.Page), plan.DefaultPage))
		}
	}
	for _, e := range accepted {
		seen.Add(e)
	}
	r.stats.Duplicates = seen.Dropped()
	entries := seen.Entries()
	if plan.MaxEntries > 0 && len(entries) > plan.MaxEntries {
		entries = entries[:plan.MaxEntries]
	}

	if plan.Enrich && o.enricher != nil {
		r.enter(StateEnriching, len(entries))
		enriched, report, err := o.enricher.Enrich(ctx, entries, func(item enrich.ItemResult) {
			o.sink.Emit(Event{
				Type:     EventItem,
				Kind:     plan.Kind,
				RunID:    r.id,
				State:    StateEnriching,
				URL:      item.URL,
				Skipped:  item.Skipped,
				Err:      item.Err,
				Duration: item.Duration,
				Time:     time.Now(),
			})
		})
		r.stats.Enriched = report.Enriched
		r.stats.EnrichFailures = report.Failed
		if err != nil {
			return r.abort(ctx, err)
		}
		entries = enriched
	}

	r.enter(StateSorting, len(entries))
	SortEntries(entries, plan.Order)

	if len(entries) == 0 {
		return r.finish(types.OutcomeEmpty, entries, ErrEmptyResult)
	}
	return r.finish(types.OutcomeDone, entries, nil)
}

// SortEntries orders entries in place. Level and title sorts are stable.
func SortEntries(entries []types.ContentEntry, order Order) {
	switch order {
	case OrderLevel:
		slices.SortStableFunc(entries, func(a, b types.ContentEntry) int {
			return cmp.Compare(a.Level, b.Level)
		})
	case OrderTitle:
		slices.SortStableFunc(entries, func(a, b types.ContentEntry) int {
			return cmp.Compare(a.Title, b.Title)
		})
	}
}
