// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Regions  []crawler.Region `mapstructure:"regions"`
	Harvest  HarvestConfig    `mapstructure:"harvest"`
	HTTP     HTTPConfig       `mapstructure:"http"`
	Headless HeadlessConfig   `mapstructure:"headless"`
	Backend  BackendConfig    `mapstructure:"backend"`
	DB       DBConfig         `mapstructure:"db"`
	Ledger   LedgerConfig     `mapstructure:"ledger"`
	Archive  ArchiveConfig    `mapstructure:"archive"`
	PubSub   PubSubConfig     `mapstructure:"pubsub"`
	Server   ServerConfig     `mapstructure:"server"`
	Schedule ScheduleConfig   `mapstructure:"schedule"`
	Logging  LoggingConfig    `mapstructure:"logging"`
	Tracing  TracingConfig    `mapstructure:"tracing"`
}

// HarvestConfig governs the two-phase pipeline.
type HarvestConfig struct {
	Regions              []string `mapstructure:"regions"`
	MaxPages             int      `mapstructure:"max_pages"`
	DiscoveryConcurrency int      `mapstructure:"discovery_concurrency"`
	ArticleConcurrency   int      `mapstructure:"article_concurrency"`
	UnitTimeoutSeconds   int      `mapstructure:"unit_timeout_seconds"`
	ScratchDir           string   `mapstructure:"scratch_dir"`
	SkipSeen             bool     `mapstructure:"skip_seen"`
	CategoryLabels       []string `mapstructure:"category_labels"`
	PortalHosts          []string `mapstructure:"portal_hosts"`
	CloudHosts           []string `mapstructure:"cloud_hosts"`
}

// UnitTimeout bounds a single discovery or article unit.
func (h HarvestConfig) UnitTimeout() time.Duration {
	return time.Duration(h.UnitTimeoutSeconds) * time.Second
}

// HTTPConfig configures the page and document fetcher.
type HTTPConfig struct {
	UserAgent              string  `mapstructure:"user_agent"`
	TimeoutSeconds         int     `mapstructure:"timeout_seconds"`
	DownloadTimeoutSeconds int     `mapstructure:"download_timeout_seconds"`
	MaxBodyBytes           int     `mapstructure:"max_body_bytes"`
	PerDomainMax           int     `mapstructure:"per_domain_max"`
	RequestsPerSecond      float64 `mapstructure:"requests_per_second"`
	Burst                  int     `mapstructure:"burst"`
}

// Timeout is the page fetch timeout.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// DownloadTimeout is the document download timeout.
func (h HTTPConfig) DownloadTimeout() time.Duration {
	return time.Duration(h.DownloadTimeoutSeconds) * time.Second
}

// HeadlessConfig configures headless rendering of portal pages.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleMillis  int  `mapstructure:"settle_ms"`
	// StaticFirst renders a portal page only when its static HTML looks like
	// a script shell with less than MinTextBytes of visible text.
	StaticFirst  bool `mapstructure:"static_first"`
	MinTextBytes int  `mapstructure:"min_text_bytes"`
}

// BackendConfig configures the extraction backend.
type BackendConfig struct {
	APIKey                  string  `mapstructure:"api_key"`
	FastModel               string  `mapstructure:"fast_model"`
	DocumentModel           string  `mapstructure:"document_model"`
	PollIntervalSeconds     int     `mapstructure:"poll_interval_seconds"`
	MaxProcessingWaitSecond int     `mapstructure:"max_processing_wait_seconds"`
	RequestsPerSecond       float64 `mapstructure:"requests_per_second"`
}

// PollInterval is the wait between file state checks.
func (b BackendConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalSeconds) * time.Second
}

// MaxProcessingWait bounds how long an uploaded file may stay in processing.
func (b BackendConfig) MaxProcessingWait() time.Duration {
	return time.Duration(b.MaxProcessingWaitSecond) * time.Second
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LedgerConfig selects the seen-article ledger.
type LedgerConfig struct {
	Provider      string `mapstructure:"provider"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLHours      int    `mapstructure:"ttl_hours"`
}

// TTL is how long an article stays marked as seen.
func (l LedgerConfig) TTL() time.Duration {
	return time.Duration(l.TTLHours) * time.Hour
}

// ArchiveConfig selects where downloaded documents are copied.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for new-notice notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether publishing is configured.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScheduleConfig drives periodic harvests.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// LoggingConfig toggles zap development features and the run log directory.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	RunLogDir   string `mapstructure:"run_log_dir"`
}

// TracingConfig controls OpenTelemetry sampling.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INTERPELLI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("regions", defaultRegions())
	v.SetDefault("harvest.regions", []string{})
	v.SetDefault("harvest.max_pages", 5)
	v.SetDefault("harvest.discovery_concurrency", 10)
	v.SetDefault("harvest.article_concurrency", 50)
	v.SetDefault("harvest.unit_timeout_seconds", 600)
	v.SetDefault("harvest.scratch_dir", "downloads")
	v.SetDefault("harvest.skip_seen", false)
	v.SetDefault("harvest.category_labels", []string{"Interpelli ricerca supplenti", "Interpelli-ricerca-supplenti"})
	v.SetDefault("harvest.portal_hosts", defaultPortalHosts)
	v.SetDefault("harvest.cloud_hosts", []string{"drive.google.com", "docs.google.com"})
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; interpelli-crawler/1.0)")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.download_timeout_seconds", 60)
	v.SetDefault("http.max_body_bytes", 50<<20)
	v.SetDefault("http.per_domain_max", 8)
	v.SetDefault("http.requests_per_second", 4)
	v.SetDefault("http.burst", 4)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_ms", 3000)
	v.SetDefault("headless.static_first", true)
	v.SetDefault("headless.min_text_bytes", 400)
	v.SetDefault("backend.fast_model", "gemini-2.5-flash")
	v.SetDefault("backend.document_model", "gemini-2.5-pro")
	v.SetDefault("backend.poll_interval_seconds", 10)
	v.SetDefault("backend.max_processing_wait_seconds", 300)
	v.SetDefault("backend.requests_per_second", 2)
	v.SetDefault("db.table", "interpelli")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("ledger.provider", "none")
	v.SetDefault("ledger.ttl_hours", 720)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "documents")
	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.cron", "@every 24h")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.run_log_dir", "logs")
	v.SetDefault("tracing.service_name", "interpelli-crawler")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("regions must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Regions))
	for i, region := range c.Regions {
		if strings.TrimSpace(region.Name) == "" || strings.TrimSpace(region.URL) == "" {
			return fmt.Errorf("regions[%d] requires name and url", i)
		}
		key := strings.ToLower(region.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("regions[%d]: duplicate region %q", i, region.Name)
		}
		seen[key] = struct{}{}
	}
	if c.Harvest.MaxPages <= 0 {
		return fmt.Errorf("harvest.max_pages must be > 0")
	}
	if c.Harvest.DiscoveryConcurrency <= 0 {
		return fmt.Errorf("harvest.discovery_concurrency must be > 0")
	}
	if c.Harvest.ArticleConcurrency <= 0 {
		return fmt.Errorf("harvest.article_concurrency must be > 0")
	}
	if c.Harvest.UnitTimeoutSeconds <= 0 {
		return fmt.Errorf("harvest.unit_timeout_seconds must be > 0")
	}
	if strings.TrimSpace(c.Harvest.ScratchDir) == "" {
		return fmt.Errorf("harvest.scratch_dir must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 || c.HTTP.DownloadTimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds and http.download_timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Backend.PollIntervalSeconds <= 0 {
		return fmt.Errorf("backend.poll_interval_seconds must be > 0")
	}
	if c.Backend.MaxProcessingWaitSecond < c.Backend.PollIntervalSeconds {
		return fmt.Errorf("backend.max_processing_wait_seconds must be >= backend.poll_interval_seconds")
	}
	switch c.Ledger.Provider {
	case "", "none", "memory":
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("ledger.redis_addr must be set when ledger.provider is redis")
		}
	default:
		return fmt.Errorf("ledger.provider %q is not supported", c.Ledger.Provider)
	}
	switch c.Archive.Provider {
	case "", "none":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.provider is local")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// RequireHarvest checks the settings that only a harvest run needs.
func (c Config) RequireHarvest() error {
	if c.Backend.APIKey == "" {
		return fmt.Errorf("backend.api_key must be set to run a harvest")
	}
	return nil
}

// ResolveRegions maps region names to configured regions, preserving the
// configured order. An empty name list selects every region.
func (c Config) ResolveRegions(names []string) ([]crawler.Region, error) {
	if len(names) == 0 {
		out := make([]crawler.Region, len(c.Regions))
		copy(out, c.Regions)
		return out, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			wanted[name] = false
		}
	}
	var out []crawler.Region
	for _, region := range c.Regions {
		key := strings.ToLower(region.Name)
		if _, ok := wanted[key]; ok {
			out = append(out, region)
			wanted[key] = true
		}
	}
	for name, found := range wanted {
		if !found {
			return nil, fmt.Errorf("unknown region %q", name)
		}
	}
	return out, nil
}
