package enrich

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vollahub/internal/fetcher"
	"vollahub/pkg/types"
)

type fakeFetcher struct {
	FetchFn func(ctx context.Context, req fetcher.Request) (*types.Page, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetcher.Request) (*types.Page, error) {
	return f.FetchFn(ctx, req)
}

func htmlPage(t *testing.T, rawURL, body string) *types.Page {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &types.Page{URL: u, FinalURL: u, Doc: doc}
}

type robotsFunc func(ctx context.Context, target *url.URL) bool

func (f robotsFunc) Allowed(ctx context.Context, target *url.URL) bool { return f(ctx, target) }

func wikiEntries() []types.ContentEntry {
	return []types.ContentEntry{
		{Title: "Volla OS", URL: "http://wiki.volla.online/index.php?title=Volla_OS"},
		{Title: "Kaputt", URL: "http://wiki.volla.online/index.php?title=Kaputt"},
		{Title: "FAQ", URL: "http://wiki.volla.online/index.php?title=FAQ"},
	}
}

func TestEnrichContainsPerItemFailure(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{FetchFn: func(_ context.Context, req fetcher.Request) (*types.Page, error) {
		if strings.Contains(req.URL, "Kaputt") {
			return nil, &fetcher.Error{Kind: fetcher.ErrHTTP, URL: req.URL, Status: 500}
		}
		return htmlPage(t, req.URL, `<p>   </p><p>Artikel über `+req.URL[strings.LastIndex(req.URL, "=")+1:]+`</p>`), nil
	}}

	var observed []ItemResult
	e := New(f, nil, Options{Timeout: time.Second})
	out, report, err := e.Enrich(context.Background(), wikiEntries(), func(r ItemResult) {
		observed = append(observed, r)
	})
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, "Artikel über Volla_OS", out[0].Excerpt)
	assert.Empty(t, out[1].Excerpt)
	assert.Equal(t, "Kaputt", out[1].Title)
	assert.Equal(t, "Artikel über FAQ", out[2].Excerpt)

	assert.Equal(t, Report{Enriched: 2, Failed: 1}, report)
	require.Len(t, observed, 3)
	assert.ErrorIs(t, observed[1].Err, fetcher.ErrHTTP)
}

func TestEnrichTruncatesAndKeepsExistingExcerpts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	long := strings.Repeat("ä", 200)
	f := &fakeFetcher{FetchFn: func(_ context.Context, req fetcher.Request) (*types.Page, error) {
		calls.Add(1)
		assert.Equal(t, "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", req.UserAgent)
		assert.Equal(t, 10*time.Second, req.Timeout)
		return htmlPage(t, req.URL, "<p>"+long+"</p>"), nil
	}}

	in := []types.ContentEntry{
		{Title: "Hauptseite", URL: "http://wiki.volla.online/index.php?title=Hauptseite", Excerpt: "Herzlich willkommen im Volla Phone Wiki"},
		{Title: "Lang", URL: "http://wiki.volla.online/index.php?title=Lang"},
	}
	e := New(f, nil, Options{
		Timeout:   10 * time.Second,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	})
	out, _, err := e.Enrich(context.Background(), in, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, strings.Repeat("ä", 150), out[1].Excerpt)
	assert.Empty(t, in[1].Excerpt, "input must not be mutated")
}

func TestEnrichConcurrentKeepsInputOrder(t *testing.T) {
	t.Parallel()

	delays := map[string]time.Duration{"Volla_OS": 40 * time.Millisecond, "Kaputt": 0, "FAQ": 20 * time.Millisecond}
	f := &fakeFetcher{FetchFn: func(ctx context.Context, req fetcher.Request) (*types.Page, error) {
		name := req.URL[strings.LastIndex(req.URL, "=")+1:]
		select {
		case <-time.After(delays[name]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return htmlPage(t, req.URL, "<p>"+name+"</p>"), nil
	}}

	e := New(f, nil, Options{Concurrency: 3})
	out, report, err := e.Enrich(context.Background(), wikiEntries(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Enriched)
	assert.Equal(t, []string{"Volla_OS", "Kaputt", "FAQ"}, []string{out[0].Excerpt, out[1].Excerpt, out[2].Excerpt})
}

func TestEnrichSpacesRequestsPerHost(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var stamps []time.Time
	f := &fakeFetcher{FetchFn: func(_ context.Context, req fetcher.Request) (*types.Page, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return htmlPage(t, req.URL, "<p>x</p>"), nil
	}}

	e := New(f, nil, Options{Delay: 30 * time.Millisecond})
	_, _, err := e.Enrich(context.Background(), wikiEntries(), nil)
	require.NoError(t, err)

	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 25*time.Millisecond)
	}
}

func TestEnrichSkipsDisallowed(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{FetchFn: func(_ context.Context, req fetcher.Request) (*types.Page, error) {
		return htmlPage(t, req.URL, "<p>ok</p>"), nil
	}}
	robots := robotsFunc(func(_ context.Context, u *url.URL) bool {
		return !strings.Contains(u.RawQuery, "FAQ")
	})

	var skipped []ItemResult
	e := New(f, robots, Options{})
	out, report, err := e.Enrich(context.Background(), wikiEntries(), func(r ItemResult) {
		if r.Skipped {
			skipped = append(skipped, r)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, Report{Enriched: 2, Skipped: 1}, report)
	assert.Empty(t, out[2].Excerpt)
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0].Err, ErrDisallowed)
}

func TestEnrichStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{FetchFn: func(ctx context.Context, req fetcher.Request) (*types.Page, error) {
		cancel()
		return nil, ctx.Err()
	}}

	e := New(f, nil, Options{})
	out, report, err := e.Enrich(ctx, wikiEntries(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, out, 3)
	assert.Zero(t, report.Failed)
}

func TestDomainLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := NewDomainLimiter(time.Hour, RateLimit{})
	require.NoError(t, l.Wait(context.Background(), "wiki.volla.online"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "WIKI.volla.online")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// other hosts are independent
	assert.NoError(t, l.Wait(context.Background(), "volla.online"))
}

func TestWorkerPoolRunsAllJobs(t *testing.T) {
	t.Parallel()

	pool, err := NewWorkerPool(context.Background(), 2, 4)
	require.NoError(t, err)

	var n atomic.Int32
	for range 4 {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) { n.Add(1) }))
	}
	pool.Wait()
	assert.Equal(t, int32(4), n.Load())

	_, err = NewWorkerPool(context.Background(), 0, 1)
	assert.Error(t, err)
}

func TestExcerptSkipsEmptyParagraphs(t *testing.T) {
	t.Parallel()

	page := htmlPage(t, "http://wiki.volla.online/", `<div><p></p><p>
	Erster   Absatz </p><p>Zweiter</p></div>`)
	assert.Equal(t, "Erster Absatz", Excerpt(page.Doc, "p", 150))
	assert.Equal(t, "", Excerpt(nil, "p", 150))
}
