// Package config loads and validates scout configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingCredential is returned when a required API credential is absent.
var ErrMissingCredential = errors.New("missing credential")

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Apify    ApifyConfig    `mapstructure:"apify"`
	SerpAPI  SerpAPIConfig  `mapstructure:"serpapi"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ApifyConfig points at the remote actor platform.
type ApifyConfig struct {
	Token          string  `mapstructure:"token"`
	BaseURL        string  `mapstructure:"base_url"`
	DetailActor    string  `mapstructure:"detail_actor"`
	ReviewsActor   string  `mapstructure:"reviews_actor"`
	WaitSeconds    int     `mapstructure:"wait_seconds"`
	MaxWaitSeconds int     `mapstructure:"max_wait_seconds"`
	MaxReviews     int     `mapstructure:"max_reviews"`
	RequestsPerSec float64 `mapstructure:"requests_per_second"`
}

// SerpAPIConfig configures the paginated search API used for discovery.
type SerpAPIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Engine         string  `mapstructure:"engine"`
	TargetDomain   string  `mapstructure:"target_domain"`
	PageSize       int     `mapstructure:"page_size"`
	MaxPages       int     `mapstructure:"max_pages"`
	RequestsPerSec float64 `mapstructure:"requests_per_second"`
}

// PipelineConfig governs chunking, concurrency and the review gate.
type PipelineConfig struct {
	Categories            []string          `mapstructure:"categories"`
	Queries               map[string]string `mapstructure:"queries"`
	MaxResults            int               `mapstructure:"max_results"`
	ChunkSize             int               `mapstructure:"chunk_size"`
	Concurrency           int               `mapstructure:"concurrency"`
	DiscoveryConcurrency  int               `mapstructure:"discovery_concurrency"`
	ReviewsEnabled        bool              `mapstructure:"reviews_enabled"`
	MaxReviewURLs         int               `mapstructure:"max_review_urls"`
	MaxAttempts           int               `mapstructure:"max_attempts"`
	EntitlementSignatures []string          `mapstructure:"entitlement_signatures"`
	SignalExamples        int               `mapstructure:"signal_examples"`
}

// HTTPConfig configures outbound HTTP clients.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// StorageConfig selects where run artifacts are written.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Bucket  string      `mapstructure:"bucket"`
	Prefix  string      `mapstructure:"prefix"`
	Local   LocalConfig `mapstructure:"local"`
}

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for chunk notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig controls the progress hub and its sinks.
type ProgressConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	LogEnabled        bool `mapstructure:"log_enabled"`
	PrometheusEnabled bool `mapstructure:"prometheus_enabled"`
	BufferSize        int  `mapstructure:"buffer_size"`
	MaxBatchEvents    int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs    int  `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs     int  `mapstructure:"sink_timeout_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GUMGENIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindCredentialEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("apify.base_url", "https://api.apify.com")
	v.SetDefault("apify.detail_actor", "scrapepilot/gumroad-product-scraper")
	v.SetDefault("apify.reviews_actor", "scrapepilot/gumroad-reviews-scraper")
	v.SetDefault("apify.wait_seconds", 60)
	v.SetDefault("apify.max_wait_seconds", 300)
	v.SetDefault("apify.max_reviews", 50)
	v.SetDefault("apify.requests_per_second", 0)
	v.SetDefault("serpapi.base_url", "https://serpapi.com")
	v.SetDefault("serpapi.engine", "google")
	v.SetDefault("serpapi.target_domain", "gumroad.com")
	v.SetDefault("serpapi.page_size", 10)
	v.SetDefault("serpapi.max_pages", 5)
	v.SetDefault("serpapi.requests_per_second", 1)
	v.SetDefault("pipeline.categories", []string{})
	v.SetDefault("pipeline.max_results", 25)
	v.SetDefault("pipeline.chunk_size", 10)
	v.SetDefault("pipeline.concurrency", 2)
	v.SetDefault("pipeline.discovery_concurrency", 2)
	v.SetDefault("pipeline.reviews_enabled", true)
	v.SetDefault("pipeline.max_review_urls", 0)
	v.SetDefault("pipeline.max_attempts", 1)
	v.SetDefault("pipeline.entitlement_signatures", []string{"actor-is-not-rented", "rent a paid actor"})
	v.SetDefault("pipeline.signal_examples", 3)
	v.SetDefault("http.timeout_seconds", 360)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("storage.local.base_dir", "data")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.prometheus_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
}

// bindCredentialEnv lets the conventional provider variable names stand in for
// the prefixed ones.
func bindCredentialEnv(v *viper.Viper) {
	_ = v.BindEnv("apify.token", "GUMGENIE_APIFY_TOKEN", "APIFY_TOKEN")
	_ = v.BindEnv("serpapi.api_key", "GUMGENIE_SERPAPI_API_KEY", "SERPAPI_KEY", "SERPAPI_API_KEY")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunk_size must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.DiscoveryConcurrency <= 0 {
		return fmt.Errorf("pipeline.discovery_concurrency must be > 0")
	}
	if c.Pipeline.MaxResults <= 0 {
		return fmt.Errorf("pipeline.max_results must be > 0")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline.max_attempts must be > 0")
	}
	if c.Pipeline.MaxReviewURLs < 0 {
		return fmt.Errorf("pipeline.max_review_urls must be >= 0")
	}
	if c.SerpAPI.PageSize <= 0 || c.SerpAPI.MaxPages <= 0 {
		return fmt.Errorf("serpapi.page_size and serpapi.max_pages must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Apify.WaitSeconds < 0 || c.Apify.MaxWaitSeconds <= 0 {
		return fmt.Errorf("apify.max_wait_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

// RequireScrapeCredentials fails when the actor platform token is absent.
func (c Config) RequireScrapeCredentials() error {
	if strings.TrimSpace(c.Apify.Token) == "" {
		return fmt.Errorf("apify.token: %w", ErrMissingCredential)
	}
	return nil
}

// RequireDiscoveryCredentials fails when the search API key is absent.
func (c Config) RequireDiscoveryCredentials() error {
	if strings.TrimSpace(c.SerpAPI.APIKey) == "" {
		return fmt.Errorf("serpapi.api_key: %w", ErrMissingCredential)
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
