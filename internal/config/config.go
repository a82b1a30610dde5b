package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything required to run the content hub crawlers.
type Config struct {
	Fetch     FetchConfig     `yaml:"fetch"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Robots    RobotsConfig    `yaml:"robots"`
	Sources   SourcesConfig   `yaml:"sources"`
	Rendering RenderingConfig `yaml:"rendering"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
}

// FetchConfig controls outbound HTTP requests.
type FetchConfig struct {
	UserAgent       string            `yaml:"user_agent"`
	Timeout         Duration          `yaml:"timeout"`
	FollowRedirects bool              `yaml:"follow_redirects"`
	MaxBodyBytes    int64             `yaml:"max_body_bytes"`
	Headers         map[string]string `yaml:"headers"`
	ProxyURL        string            `yaml:"proxy_url"`
}

// EnrichConfig tunes the per-entry excerpt fetches.
type EnrichConfig struct {
	Timeout       Duration        `yaml:"timeout"`
	Delay         Duration        `yaml:"delay"`
	Concurrency   int             `yaml:"concurrency"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	ExcerptLength int             `yaml:"excerpt_length"`
}

// RateLimitConfig applies a token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// RobotsConfig configures robots.txt handling for enrichment fetches.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// SourcesConfig holds one block per crawl kind.
type SourcesConfig struct {
	SiteMenu   SourceConfig `yaml:"site_menu"`
	Blog       SourceConfig `yaml:"blog"`
	WikiByPage SourceConfig `yaml:"wiki_by_page"`
	WikiFull   SourceConfig `yaml:"wiki_full"`
}

// SourceConfig describes where a crawl starts and which links it keeps.
type SourceConfig struct {
	Enabled       bool     `yaml:"enabled"`
	StartURL      string   `yaml:"start_url"`
	DefaultPage   string   `yaml:"default_page"`
	Selector      string   `yaml:"selector"`
	BasePrefix    string   `yaml:"base_prefix"`
	Required      []string `yaml:"required"`
	Blocked       []string `yaml:"blocked"`
	MinTextLength int      `yaml:"min_text_length"`
	MaxEntries    int      `yaml:"max_entries"`
	UserAgent     string   `yaml:"user_agent"`
	Timeout       Duration `yaml:"timeout"`
}

// RenderingConfig controls the headless browser rendering strategy.
type RenderingConfig struct {
	Engine             string   `yaml:"engine"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	CaptureDelay       Duration `yaml:"capture_delay"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
	MobileHosts        []string `yaml:"mobile_hosts"`
}

// LoggingConfig selects log verbosity.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// StorageConfig selects where the last snapshot of each source is kept.
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig describes a relational database connection.
type PostgresConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// RedisConfig describes a Redis connection.
type RedisConfig struct {
	Address  string   `yaml:"address"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Key      string   `yaml:"key"`
	Timeout  Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	RefreshOnStart  bool     `yaml:"refresh_on_start"`
}

const (
	shortUserAgent   = "Mozilla/5.0"
	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	siteRoot = "https://volla.online"
	wikiRoot = "http://wiki.volla.online"
)

var wikiBlocked = []string{"Spezial:", "Diskussion:", "action=", "&"}

// Default returns a Config that reproduces the Volla site and wiki crawls.
func Default() Config {
	return Config{
		Fetch: FetchConfig{
			UserAgent:       shortUserAgent,
			Timeout:         DurationFrom(15 * time.Second),
			FollowRedirects: true,
			MaxBodyBytes:    6 * 1024 * 1024,
			Headers:         map[string]string{},
		},
		Enrich: EnrichConfig{
			Timeout:       DurationFrom(10 * time.Second),
			Delay:         DurationFrom(200 * time.Millisecond),
			Concurrency:   1,
			ExcerptLength: 150,
		},
		Robots: RobotsConfig{
			Respect:   false,
			Overrides: []string{},
			UserAgent: shortUserAgent,
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Sources: SourcesConfig{
			SiteMenu: SourceConfig{
				Enabled:       true,
				StartURL:      siteRoot + "/de/",
				BasePrefix:    siteRoot + "/de/",
				Blocked:       []string{"/blog", "#"},
				MinTextLength: 3,
				UserAgent:     shortUserAgent,
				Timeout:       DurationFrom(15 * time.Second),
			},
			Blog: SourceConfig{
				Enabled:       true,
				StartURL:      siteRoot + "/de/blog/",
				BasePrefix:    siteRoot + "/de/blog/",
				MinTextLength: 1,
				UserAgent:     desktopUserAgent,
				Timeout:       DurationFrom(30 * time.Second),
			},
			WikiByPage: SourceConfig{
				Enabled:       true,
				StartURL:      wikiRoot + "/index.php?title=",
				DefaultPage:   "Hauptseite",
				BasePrefix:    wikiRoot + "/",
				Required:      []string{"index.php?title="},
				Blocked:       append([]string(nil), wikiBlocked...),
				MinTextLength: 1,
				UserAgent:     shortUserAgent,
				Timeout:       DurationFrom(15 * time.Second),
			},
			WikiFull: SourceConfig{
				Enabled:       true,
				StartURL:      wikiRoot + "/index.php?title=Hauptseite",
				DefaultPage:   "Hauptseite",
				BasePrefix:    wikiRoot + "/",
				Required:      []string{"index.php?title="},
				Blocked:       append([]string(nil), wikiBlocked...),
				MinTextLength: 1,
				UserAgent:     desktopUserAgent,
				Timeout:       DurationFrom(15 * time.Second),
			},
		},
		Rendering: RenderingConfig{
			Engine:             "chromedp",
			Timeout:            DurationFrom(30 * time.Second),
			CaptureDelay:       DurationFrom(1500 * time.Millisecond),
			ConcurrentSessions: 1,
			MobileHosts:        []string{"wiki.volla.online"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Driver: "none",
			Postgres: PostgresConfig{
				AutoMigrate: true,
			},
			Redis: RedisConfig{
				Key:     "vollahub:snapshots",
				Timeout: DurationFrom(5 * time.Second),
			},
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: DurationFrom(15 * time.Second),
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		cfg.normalise()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overlays VOLLAHUB_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set("VOLLAHUB_USER_AGENT", &c.Fetch.UserAgent)
	set("VOLLAHUB_LOG_LEVEL", &c.Logging.Level)
	set("VOLLAHUB_STORAGE_DRIVER", &c.Storage.Driver)
	set("VOLLAHUB_POSTGRES_DSN", &c.Storage.Postgres.DSN)
	set("VOLLAHUB_REDIS_ADDRESS", &c.Storage.Redis.Address)
	set("VOLLAHUB_REDIS_PASSWORD", &c.Storage.Redis.Password)
	set("VOLLAHUB_ADDR", &c.Server.Addr)
	if raw := strings.TrimSpace(getenv("VOLLAHUB_REDIS_DB")); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("VOLLAHUB_REDIS_DB: %w", err)
		}
		c.Storage.Redis.DB = db
	}
	if raw := strings.TrimSpace(getenv("VOLLAHUB_ENRICH_DELAY")); raw != "" {
		if err := c.Enrich.Delay.UnmarshalText([]byte(raw)); err != nil {
			return fmt.Errorf("VOLLAHUB_ENRICH_DELAY: %w", err)
		}
	}
	c.normalise()
	return c.Validate()
}

// Source returns the source block configured for a crawl kind name.
func (s SourcesConfig) Source(kind string) (SourceConfig, bool) {
	switch kind {
	case "site-menu":
		return s.SiteMenu, true
	case "blog-listing":
		return s.Blog, true
	case "wiki-by-page":
		return s.WikiByPage, true
	case "wiki-full-crawl":
		return s.WikiFull, true
	}
	return SourceConfig{}, false
}

// Hosts returns the lower-cased hosts of every enabled source's start URL
// and base prefix, sorted and without duplicates.
func (s SourcesConfig) Hosts() []string {
	seen := make(map[string]struct{})
	for _, src := range []SourceConfig{s.SiteMenu, s.Blog, s.WikiByPage, s.WikiFull} {
		if !src.Enabled {
			continue
		}
		for _, raw := range []string{src.StartURL, src.BasePrefix} {
			u, err := url.Parse(strings.TrimSpace(raw))
			if err != nil || u.Hostname() == "" {
				continue
			}
			seen[strings.ToLower(u.Hostname())] = struct{}{}
		}
	}
	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Validate enforces required invariants for the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Fetch.Timeout.Duration <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0 (got %s)", c.Fetch.Timeout)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if c.Enrich.Timeout.Duration <= 0 {
		return fmt.Errorf("enrich.timeout must be > 0 (got %s)", c.Enrich.Timeout)
	}
	if c.Enrich.Delay.Duration < 0 {
		return fmt.Errorf("enrich.delay must be >= 0 (got %s)", c.Enrich.Delay)
	}
	if c.Enrich.Concurrency <= 0 {
		return fmt.Errorf("enrich.concurrency must be > 0 (got %d)", c.Enrich.Concurrency)
	}
	if c.Enrich.ExcerptLength <= 0 {
		return fmt.Errorf("enrich.excerpt_length must be > 0 (got %d)", c.Enrich.ExcerptLength)
	}
	if rl := c.Enrich.RateLimit; rl.Requests < 0 {
		return fmt.Errorf("enrich.rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set when robots.respect is true")
	}

	sources := map[string]SourceConfig{
		"site_menu":    c.Sources.SiteMenu,
		"blog":         c.Sources.Blog,
		"wiki_by_page": c.Sources.WikiByPage,
		"wiki_full":    c.Sources.WikiFull,
	}
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := sources[name].validate(name); err != nil {
			return err
		}
	}

	switch c.Storage.Driver {
	case "", "none":
	case "postgres":
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn must be set when storage.driver is postgres")
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Address) == "" {
			return errors.New("storage.redis.address must be set when storage.driver is redis")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}

	switch c.Rendering.Engine {
	case "chromedp", "chrome", "none":
	default:
		return fmt.Errorf("unsupported rendering.engine %q", c.Rendering.Engine)
	}
	return nil
}

func (s SourceConfig) validate(name string) error {
	if !s.Enabled {
		return nil
	}
	u, err := url.Parse(s.StartURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("sources.%s.start_url must be an absolute url (got %q)", name, s.StartURL)
	}
	if s.BasePrefix == "" {
		return fmt.Errorf("sources.%s.base_prefix must be set", name)
	}
	if s.MinTextLength < 0 {
		return fmt.Errorf("sources.%s.min_text_length must be >= 0 (got %d)", name, s.MinTextLength)
	}
	if s.MaxEntries < 0 {
		return fmt.Errorf("sources.%s.max_entries must be >= 0 (got %d)", name, s.MaxEntries)
	}
	if s.Timeout.Duration < 0 {
		return fmt.Errorf("sources.%s.timeout must be >= 0 (got %s)", name, s.Timeout)
	}
	return nil
}

func (c *Config) normalise() {
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	if c.Fetch.Headers == nil {
		c.Fetch.Headers = make(map[string]string)
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Rendering.Engine = strings.ToLower(strings.TrimSpace(c.Rendering.Engine))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
	if len(c.Rendering.MobileHosts) > 0 {
		c.Rendering.MobileHosts = dedupeLower(c.Rendering.MobileHosts)
	}
	for _, src := range []*SourceConfig{
		&c.Sources.SiteMenu, &c.Sources.Blog, &c.Sources.WikiByPage, &c.Sources.WikiFull,
	} {
		src.StartURL = strings.TrimSpace(src.StartURL)
		src.BasePrefix = strings.TrimSpace(src.BasePrefix)
		src.DefaultPage = strings.TrimSpace(src.DefaultPage)
		src.Selector = strings.TrimSpace(src.Selector)
		src.UserAgent = strings.TrimSpace(src.UserAgent)
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
