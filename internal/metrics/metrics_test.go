package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"vollahub/internal/crawler"
	"vollahub/internal/fetcher"
	"vollahub/pkg/types"
)

func TestEmitRecordsRunLifecycle(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	kind := types.KindWikiFull

	m.Emit(crawler.Event{Type: crawler.EventTransition, Kind: kind, State: crawler.StateFetching})
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsInFlight.WithLabelValues(string(kind))), 0)

	m.Emit(crawler.Event{Type: crawler.EventItem, Kind: kind, State: crawler.StateEnriching,
		Err: &fetcher.Error{Kind: fetcher.ErrHTTP, Status: 404}})
	m.Emit(crawler.Event{Type: crawler.EventItem, Kind: kind, State: crawler.StateEnriching})
	m.Emit(crawler.Event{Type: crawler.EventFinished, Kind: kind, State: crawler.StateDone,
		Outcome: types.OutcomeDone, Count: 12, Duration: 3 * time.Second})

	assert.InDelta(t, 0, testutil.ToFloat64(m.RunsInFlight.WithLabelValues(string(kind))), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EnrichFailuresTotal.WithLabelValues(string(kind))), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchErrorsTotal.WithLabelValues(string(kind), "enriching", "http")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues(string(kind), "done")), 0)
	assert.InDelta(t, 12, testutil.ToFloat64(m.Entries.WithLabelValues(string(kind))), 0)
}

func TestEmitAttributesRootFailures(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	err := &crawler.StageError{
		State: crawler.StateFetching,
		Err:   &fetcher.Error{Kind: fetcher.ErrNetwork, Err: context.DeadlineExceeded},
	}
	m.Emit(crawler.Event{Type: crawler.EventFinished, Kind: types.KindSiteMenu, State: crawler.StateFailed,
		Outcome: types.OutcomeFailed, Err: err})

	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchErrorsTotal.WithLabelValues("site-menu", "fetching", "network")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("site-menu", "failed")), 0)
}
