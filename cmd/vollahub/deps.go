package main

import (
	"fmt"
	"strings"

	"vollahub/internal/config"
	"vollahub/internal/crawler"
	"vollahub/internal/enrich"
	"vollahub/internal/fetcher"
	"vollahub/internal/logger"
	"vollahub/internal/render"
	"vollahub/internal/robots"
)

// deps holds the components shared by all commands.
type deps struct {
	cfg     *config.Config
	log     logger.Logger
	fetcher *fetcher.HTTPFetcher
}

func newDeps(cfg *config.Config, log logger.Logger) (*deps, error) {
	f, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:       cfg.Fetch.UserAgent,
		Headers:         cfg.Fetch.Headers,
		Timeout:         cfg.Fetch.Timeout.Duration,
		FollowRedirects: cfg.Fetch.FollowRedirects,
		MaxBodyBytes:    cfg.Fetch.MaxBodyBytes,
		ProxyURL:        cfg.Fetch.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	return &deps{cfg: cfg, log: log, fetcher: f}, nil
}

func (d *deps) enricher() *enrich.Enricher {
	var checker enrich.RobotsChecker
	if d.cfg.Robots.Respect {
		checker = robots.NewAgent(d.cfg.Robots, d.fetcher.Client())
	}
	return enrich.New(d.fetcher, checker, enrich.Options{
		Timeout:     d.cfg.Enrich.Timeout.Duration,
		UserAgent:   enrichUserAgent(d.cfg),
		Delay:       d.cfg.Enrich.Delay.Duration,
		Concurrency: d.cfg.Enrich.Concurrency,
		RateLimit: enrich.RateLimit{
			Requests: d.cfg.Enrich.RateLimit.Requests,
			Window:   d.cfg.Enrich.RateLimit.Window.Duration,
		},
		ExcerptLength: d.cfg.Enrich.ExcerptLength,
	})
}

// enrichUserAgent picks the agent for article sub-fetches: the full wiki
// crawl's agent, else the global one.
func enrichUserAgent(cfg *config.Config) string {
	if ua := strings.TrimSpace(cfg.Sources.WikiFull.UserAgent); ua != "" {
		return ua
	}
	return cfg.Fetch.UserAgent
}

func (d *deps) orchestrator(sink crawler.Sink) (*crawler.Orchestrator, error) {
	plans, err := crawler.Plans(*d.cfg)
	if err != nil {
		return nil, fmt.Errorf("build crawl plans: %w", err)
	}
	return crawler.New(d.fetcher, d.enricher(), plans, sink), nil
}

func (d *deps) renderers() map[render.Mode]render.Renderer {
	article := render.NewArticleRenderer(d.fetcher, render.ArticleOptions{
		UserAgent: d.cfg.Fetch.UserAgent,
		Timeout:   d.cfg.Enrich.Timeout.Duration,
	})
	out := map[render.Mode]render.Renderer{
		render.ModeFormatted: article,
		render.ModeMarkdown:  render.NewMarkdownRenderer(article),
	}
	if d.cfg.Rendering.Engine != "none" {
		out[render.ModeBrowser] = render.NewBrowserRenderer(
			render.BrowserOptionsFrom(d.cfg.Rendering, d.cfg.Fetch.UserAgent, d.cfg.Fetch.MaxBodyBytes),
			d.log,
		)
	}
	return out
}
