// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Auth     AuthConfig              `mapstructure:"auth"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Crawler  CrawlerConfig           `mapstructure:"crawler"`
	HTTP     HTTPConfig              `mapstructure:"http"`
	Sources  map[string]SourceConfig `mapstructure:"sources"`
	DB       DBConfig                `mapstructure:"db"`
	Redis    RedisConfig             `mapstructure:"redis"`
	PubSub   PubSubConfig            `mapstructure:"pubsub"`
	Archive  ArchiveConfig           `mapstructure:"archive"`
	Rankings RankingsConfig          `mapstructure:"rankings"`
	Tracing  TracingConfig           `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the producer/consumer pipeline.
type CrawlerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	Serial           bool          `mapstructure:"serial"`
	Warmup           time.Duration `mapstructure:"warmup"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxPages         int           `mapstructure:"max_pages"`
	StatsInterval    time.Duration `mapstructure:"stats_interval"`
	PendingBatchSize int           `mapstructure:"pending_batch_size"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// HTTPConfig configures the shared HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRedirects   int `mapstructure:"max_redirects"`
	MaxAttempts    int `mapstructure:"max_attempts"`
}

// Timeout converts the configured seconds into a duration.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// SourceConfig holds per-upstream settings.
type SourceConfig struct {
	Enabled       *bool         `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	QPS           float64       `mapstructure:"qps"`
	MaxInFlight   int           `mapstructure:"max_in_flight"`
	APIKeys       []string      `mapstructure:"api_keys"`
	Proxies       []string      `mapstructure:"proxies"`
	CredentialTTL time.Duration `mapstructure:"credential_ttl"`
	Mailto        string        `mapstructure:"mailto"`
}

// IsEnabled defaults to true when the flag is unset.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig enables the Redis progress channel when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig selects where raw authoritative pages are archived.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// RankingsConfig points at the local JCR rankings database.
type RankingsConfig struct {
	DBPath string `mapstructure:"db_path"`
	CSVDir string `mapstructure:"csv_dir"`
}

// TracingConfig toggles OpenTelemetry tracing. Spans go to the OTLP endpoint
// when one is set and to stdout otherwise.
type TracingConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	ServiceName string            `mapstructure:"service_name"`
	Endpoint    string            `mapstructure:"endpoint"`
	Insecure    bool              `mapstructure:"insecure"`
	Headers     map[string]string `mapstructure:"headers"`
	SampleRatio float64           `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	return FromViper(v)
}

// FromViper unmarshals and validates a prepared viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applySourceDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("JOURNALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.concurrency", 30)
	v.SetDefault("crawler.serial", false)
	v.SetDefault("crawler.warmup", "2s")
	v.SetDefault("crawler.poll_interval", "3s")
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.stats_interval", "10s")
	v.SetDefault("crawler.pending_batch_size", 500)
	v.SetDefault("crawler.user_agent", "journal-crawler/0.1")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("redis.channel", "journals:progress")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("tracing.service_name", "journal-crawler")
	v.SetDefault("tracing.sample_ratio", 0.1)
}

type sourceDefaults struct {
	baseURL     string
	qps         float64
	maxInFlight int
}

var defaultSources = map[string]sourceDefaults{
	"openalex":  {baseURL: "https://api.openalex.org", qps: 8, maxInFlight: 1},
	"crossref":  {baseURL: "https://api.crossref.org", qps: 10, maxInFlight: 10},
	"doaj":      {baseURL: "https://doaj.org", qps: 5, maxInFlight: 5},
	"nlm":       {baseURL: "https://eutils.ncbi.nlm.nih.gov", qps: 3, maxInFlight: 3},
	"wikidata":  {baseURL: "https://query.wikidata.org", qps: 2, maxInFlight: 2},
	"wikipedia": {baseURL: "https://en.wikipedia.org", qps: 10, maxInFlight: 10},
}

// applySourceDefaults fills per-source gaps; map-valued keys cannot be
// defaulted field-by-field through viper.
func (c *Config) applySourceDefaults() {
	if c.Sources == nil {
		c.Sources = make(map[string]SourceConfig, len(defaultSources))
	}
	for name, def := range defaultSources {
		src := c.Sources[name]
		if src.BaseURL == "" {
			src.BaseURL = def.baseURL
		}
		if src.QPS == 0 {
			src.QPS = def.qps
		}
		if src.MaxInFlight == 0 {
			src.MaxInFlight = def.maxInFlight
		}
		if src.CredentialTTL == 0 {
			src.CredentialTTL = 5 * time.Minute
		}
		c.Sources[name] = src
	}
}

// Source returns the settings of one upstream.
func (c Config) Source(name string) SourceConfig {
	return c.Sources[name]
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PollInterval <= 0 {
		return fmt.Errorf("crawler.poll_interval must be > 0")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must be >= 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for name, src := range c.Sources {
		if _, ok := defaultSources[name]; !ok {
			return fmt.Errorf("sources.%s: unknown source", name)
		}
		if src.QPS < 0 {
			return fmt.Errorf("sources.%s.qps must be >= 0", name)
		}
		if src.MaxInFlight < 0 {
			return fmt.Errorf("sources.%s.max_in_flight must be >= 0", name)
		}
	}
	switch c.Archive.Backend {
	case "", "memory", "local", "gcs":
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.Archive.Backend == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
	}
	if c.Archive.Backend == "local" && c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir must be set for the local backend")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}
