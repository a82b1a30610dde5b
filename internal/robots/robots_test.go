package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vollahub/internal/config"
)

const robotsTxt = `User-agent: *
Disallow: /index.php?title=Spezial
Disallow: /private/
`

func newRobotsServer(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(robotsTxt))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestAllowedRespectsRules(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newRobotsServer(t, http.StatusOK, &hits)
	agent := NewAgent(config.RobotsConfig{Respect: true, UserAgent: "Mozilla/5.0", CacheTTL: config.DurationFrom(time.Hour)}, srv.Client())

	ctx := context.Background()
	assert.True(t, agent.Allowed(ctx, mustURL(t, srv.URL+"/index.php?title=Volla_OS")))
	assert.False(t, agent.Allowed(ctx, mustURL(t, srv.URL+"/index.php?title=Spezial:Suche")))
	assert.False(t, agent.Allowed(ctx, mustURL(t, srv.URL+"/private/x")))
	assert.Equal(t, int32(1), hits.Load(), "robots.txt should be cached per host")

	agent.Purge(mustURL(t, srv.URL).Host)
	assert.True(t, agent.Allowed(ctx, mustURL(t, srv.URL+"/")))
	assert.Equal(t, int32(2), hits.Load())
}

func TestAllowedWhenNotRespecting(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newRobotsServer(t, http.StatusOK, &hits)
	agent := NewAgent(config.RobotsConfig{Respect: false}, srv.Client())

	assert.True(t, agent.Allowed(context.Background(), mustURL(t, srv.URL+"/private/x")))
	assert.Zero(t, hits.Load())
	assert.False(t, agent.Allowed(context.Background(), mustURL(t, "/relative")))
}

func TestOverridesSkipRobots(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newRobotsServer(t, http.StatusOK, &hits)
	u := mustURL(t, srv.URL+"/private/x")
	agent := NewAgent(config.RobotsConfig{Respect: true, Overrides: []string{u.Hostname()}}, srv.Client())

	assert.True(t, agent.Allowed(context.Background(), u))
	assert.Zero(t, hits.Load())
}

func TestServerErrorDisallows(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newRobotsServer(t, http.StatusServiceUnavailable, &hits)
	agent := NewAgent(config.RobotsConfig{Respect: true, UserAgent: "Mozilla/5.0"}, srv.Client())

	assert.False(t, agent.Allowed(context.Background(), mustURL(t, srv.URL+"/index.php?title=Volla_OS")))
}

func TestUnreachableHostFailsOpen(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := mustURL(t, srv.URL+"/private/x")
	srv.Close()

	agent := NewAgent(config.RobotsConfig{Respect: true, UserAgent: "Mozilla/5.0"}, nil)
	assert.True(t, agent.Allowed(context.Background(), target))
}
