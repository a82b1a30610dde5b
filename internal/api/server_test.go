package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vollahub/internal/crawler"
	"vollahub/internal/hub"
	"vollahub/internal/render"
	"vollahub/pkg/types"
)

type stubRunner struct {
	entries []types.ContentEntry
}

func (stubRunner) Kinds() []types.CrawlKind {
	return []types.CrawlKind{types.KindSiteMenu, types.KindBlogListing}
}

func (r stubRunner) Run(_ context.Context, kind types.CrawlKind, _ crawler.RunOptions) types.Result {
	return types.Result{Kind: kind, Outcome: types.OutcomeDone, Entries: r.entries}
}

type stubRenderer struct {
	doc string
	err error
}

func (r stubRenderer) Render(context.Context, string) (string, error) { return r.doc, r.err }

func newTestServer(t *testing.T, renderers map[render.Mode]render.Renderer) (*Server, *hub.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := hub.NewManager(stubRunner{entries: []types.ContentEntry{
		{Title: "Volla Phone X23", URL: "https://volla.online/de/blog/volla-phone-x23/", Excerpt: "Robust und nachhaltig"},
		{Title: "Community Treffen", URL: "https://volla.online/de/blog/community-treffen/", Excerpt: "Remscheid"},
	}})
	t.Cleanup(manager.Close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "vollahub_test_total", Help: "test"}))

	return NewServer(Options{
		Hub:          manager,
		Renderers:    renderers,
		ArticleHosts: []string{"volla.online", "wiki.volla.online"},
		Gatherer:     reg,
		Heartbeat:    time.Hour,
	}), manager
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestStaticRoutes(t *testing.T) {
	server, _ := newTestServer(t, nil)

	tests := []struct {
		path        string
		contentType string
	}{
		{"/health", "application/json; charset=utf-8"},
		{"/openapi.yaml", "application/yaml"},
		{"/docs", "text/html; charset=utf-8"},
	}
	for _, tt := range tests {
		rr := do(t, server, http.MethodGet, tt.path)
		assert.Equal(t, http.StatusOK, rr.Code, tt.path)
		assert.Equal(t, tt.contentType, rr.Header().Get("Content-Type"), tt.path)
		assert.NotEmpty(t, rr.Body.String(), tt.path)
	}

	rr := do(t, server, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "vollahub_test_total")
}

func TestRefreshThenFilteredListing(t *testing.T) {
	server, manager := newTestServer(t, nil)

	rr := do(t, server, http.MethodPost, "/api/sources/blog-listing/refresh")
	require.Equal(t, http.StatusAccepted, rr.Code)

	var refresh RefreshResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &refresh))
	assert.Equal(t, types.KindBlogListing, refresh.Kind)
	require.NotEmpty(t, refresh.RunID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := manager.Await(ctx, types.KindBlogListing, refresh.RunID)
	require.NoError(t, err)

	rr = do(t, server, http.MethodGet, "/api/sources/blog-listing?q=REMSCHEID")
	require.Equal(t, http.StatusOK, rr.Code)
	var detail SourceDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	assert.Equal(t, "done", detail.Status)
	assert.Equal(t, "2 Einträge geladen", detail.Message)
	assert.Equal(t, 2, detail.Count)
	assert.Equal(t, "REMSCHEID", detail.Query)
	require.Len(t, detail.Entries, 1)
	assert.Equal(t, "Community Treffen", detail.Entries[0].Title)

	rr = do(t, server, http.MethodGet, "/api/sources")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []SourceSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, types.KindSiteMenu, list[0].Kind)
	assert.Equal(t, "idle", list[0].Status)
	assert.Equal(t, "done", list[1].Status)
	assert.NotNil(t, list[1].FinishedAt)
}

func TestUnknownSourceReturns404(t *testing.T) {
	server, _ := newTestServer(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/sources/wiki-full-crawl"},
		{http.MethodPost, "/api/sources/nope/refresh"},
		{http.MethodPost, "/api/sources/nope/cancel"},
		{http.MethodGet, "/api/sources/nope/events"},
	} {
		rr := do(t, server, tc.method, tc.path)
		assert.Equal(t, http.StatusNotFound, rr.Code, tc.path)
	}
}

func TestCancelIdleSourceConflicts(t *testing.T) {
	server, _ := newTestServer(t, nil)
	rr := do(t, server, http.MethodPost, "/api/sources/site-menu/cancel")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRenderArticle(t *testing.T) {
	server, _ := newTestServer(t, map[render.Mode]render.Renderer{
		render.ModeFormatted: stubRenderer{doc: "<html><body>Artikel</body></html>"},
		render.ModeMarkdown:  stubRenderer{err: errors.New("upstream down")},
	})

	rr := do(t, server, http.MethodGet, "/api/article?url=http://wiki.volla.online/index.php?title=Hauptseite")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "Artikel")

	rr = do(t, server, http.MethodGet, "/api/article")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, server, http.MethodGet, "/api/article?url=https://volla.online/&mode=pdf")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, server, http.MethodGet, "/api/article?url=https://volla.online/&mode=browser")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)

	rr = do(t, server, http.MethodGet, "/api/article?url=https://volla.online/&mode=markdown")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "upstream down")
}

func TestRenderArticleRejectsForeignHosts(t *testing.T) {
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<main>intern</main>"))
	}))
	defer internal.Close()

	article := render.NewArticleRenderer(nil, render.ArticleOptions{})
	server, _ := newTestServer(t, map[render.Mode]render.Renderer{
		render.ModeFormatted: stubRenderer{doc: "<html><body>Artikel</body></html>"},
		render.ModeMarkdown:  render.NewMarkdownRenderer(article),
	})

	for _, target := range []string{
		internal.URL + "/admin",
		"http://localhost/",
		"http://169.254.169.254/latest/meta-data/",
		"file:///etc/passwd",
		"https://volla.online.example.com/",
		"https://user@volla.online/",
		"/de/blog/",
	} {
		for _, mode := range []string{"formatted", "markdown"} {
			rr := do(t, server, http.MethodGet, "/api/article?mode="+mode+"&url="+url.QueryEscape(target))
			assert.Equal(t, http.StatusBadRequest, rr.Code, target)
			assert.NotContains(t, rr.Body.String(), "intern", target)
		}
	}

	rr := do(t, server, http.MethodGet, "/api/article?url="+url.QueryEscape("https://WIKI.volla.online/index.php?title=Hauptseite"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRenderArticleWithoutHostsRejectsAll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	manager := hub.NewManager(stubRunner{})
	defer manager.Close()
	server := NewServer(Options{
		Hub:       manager,
		Renderers: map[render.Mode]render.Renderer{render.ModeFormatted: stubRenderer{doc: "x"}},
		Gatherer:  prometheus.NewRegistry(),
	})

	rr := do(t, server, http.MethodGet, "/api/article?url=https://volla.online/de/")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSourceEventsStream(t *testing.T) {
	server, manager := newTestServer(t, nil)
	srv := httptest.NewServer(server)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sources/site-menu/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, hub.Event) {
		var name string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				var ev hub.Event
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
				return name, ev
			}
		}
	}

	name, ev := readEvent()
	assert.Equal(t, "snapshot", name)
	assert.Equal(t, "idle", ev.Snapshot.Status)

	_, err = manager.Refresh(types.KindSiteMenu, "")
	require.NoError(t, err)

	name, ev = readEvent()
	assert.Equal(t, "started", name)
	assert.Equal(t, "running", ev.Snapshot.Status)
}
