// Package api exposes the content hub over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vollahub/internal/hub"
	"vollahub/internal/logger"
	"vollahub/internal/render"
	"vollahub/pkg/types"
)

const defaultHeartbeat = 15 * time.Second

// Options wires the server dependencies.
type Options struct {
	Hub       *hub.Manager
	Renderers map[render.Mode]render.Renderer
	// ArticleHosts lists the hosts /api/article may fetch from. Empty
	// rejects every article URL.
	ArticleHosts []string
	Logger       logger.Logger
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer  prometheus.Gatherer
	Heartbeat time.Duration
}

// ErrHostNotAllowed is returned for article URLs outside the source hosts.
var ErrHostNotAllowed = errors.New("article host not allowed")

// Server exposes the HTTP API for content sources and article rendering.
type Server struct {
	hub       *hub.Manager
	renderers map[render.Mode]render.Renderer
	hosts     map[string]struct{}
	log       logger.Logger
	heartbeat time.Duration
	engine    *gin.Engine
}

// NewServer wires handlers onto a gin engine.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	s := &Server{
		hub:       opts.Hub,
		renderers: opts.Renderers,
		hosts:     make(map[string]struct{}, len(opts.ArticleHosts)),
		log:       opts.Logger,
		heartbeat: opts.Heartbeat,
		engine:    gin.New(),
	}
	for _, h := range opts.ArticleHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.hosts[h] = struct{}{}
		}
	}
	s.engine.Use(gin.Recovery(), loggerMiddleware(s.log))
	s.routes(opts.Gatherer)
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/openapi.yaml", s.handleOpenAPI)
	s.engine.GET("/docs", s.handleDocs)

	api := s.engine.Group("/api")
	api.GET("/sources", s.listSources)
	api.GET("/sources/:kind", s.getSource)
	api.POST("/sources/:kind/refresh", s.refreshSource)
	api.POST("/sources/:kind/cancel", s.cancelSource)
	api.GET("/sources/:kind/events", s.streamSourceEvents)
	api.GET("/article", s.renderArticle)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", logger.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", logger.Error(err))
		return err
	}
	s.log.Info("API server stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) listSources(c *gin.Context) {
	snaps := s.hub.Snapshots()
	out := make([]SourceSummary, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, summarize(snap))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getSource(c *gin.Context) {
	kind := types.CrawlKind(c.Param("kind"))
	snap, err := s.hub.Snapshot(kind)
	if err != nil {
		s.sourceError(c, err)
		return
	}
	query := c.Query("q")
	entries := hub.Filter(snap.Entries, query)
	c.JSON(http.StatusOK, SourceDetail{
		SourceSummary: summarize(snap),
		Query:         strings.TrimSpace(query),
		Entries:       entries,
	})
}

func (s *Server) refreshSource(c *gin.Context) {
	kind := types.CrawlKind(c.Param("kind"))
	runID, err := s.hub.Refresh(kind, c.Query("page"))
	if err != nil {
		s.sourceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, RefreshResponse{Kind: kind, RunID: runID})
}

func (s *Server) cancelSource(c *gin.Context) {
	kind := types.CrawlKind(c.Param("kind"))
	if err := s.hub.Cancel(kind); err != nil {
		s.sourceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) renderArticle(c *gin.Context) {
	target := strings.TrimSpace(c.Query("url"))
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	if err := s.checkArticleURL(target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := render.ParseMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	renderer, ok := s.renderers[mode]
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "render mode " + string(mode) + " not enabled"})
		return
	}

	doc, err := renderer.Render(c.Request.Context(), target)
	contentType := "text/html; charset=utf-8"
	if mode == render.ModeMarkdown {
		contentType = "text/markdown; charset=utf-8"
	}
	if err != nil {
		_ = c.Error(err)
		if doc == "" {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusBadGateway, contentType, []byte(doc))
		return
	}
	c.Data(http.StatusOK, contentType, []byte(doc))
}

// checkArticleURL accepts only absolute http(s) URLs on a configured source host.
func (s *Server) checkArticleURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrHostNotAllowed, u.Scheme)
	}
	if _, ok := s.hosts[strings.ToLower(u.Hostname())]; !ok || u.User != nil {
		return fmt.Errorf("%w: %q", ErrHostNotAllowed, u.Host)
	}
	return nil
}

func (s *Server) sourceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hub.ErrUnknownSource):
		status = http.StatusNotFound
	case errors.Is(err, hub.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, hub.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func loggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields = append(fields, logger.String("query", q))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.Strings("errors", c.Errors.Errors()))
			log.Warn("HTTP request with errors", fields...)
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/health") || c.Request.URL.Path == "/metrics" {
			log.Debug("HTTP request", fields...)
			return
		}
		log.Info("HTTP request", fields...)
	}
}
