package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/domainscout/internal/expr"
)

// Config holds every runtime option for the scout service.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Cache   CacheConfig   `koanf:"cache"`
	Storage StorageConfig `koanf:"storage"`
	Sources SourcesConfig `koanf:"sources"`
	Batch   BatchConfig   `koanf:"batch"`
	Retry   RetryConfig   `koanf:"retry"`
}

// ServerConfig collects the HTTP listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TracingConfig enables OTLP span export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"serviceName"`
}

// CacheConfig selects the process-local tier in front of the SQL cache tables.
type CacheConfig struct {
	Backend  string           `koanf:"backend"`
	LocalTTL time.Duration    `koanf:"localTTL"`
	Redis    RedisCacheConfig `koanf:"redis"`
}

type RedisCacheConfig struct {
	Namespace string         `koanf:"namespace"`
	Address   string         `koanf:"address"`
	Username  string         `koanf:"username"`
	Password  string         `koanf:"password"`
	DB        int            `koanf:"db"`
	TLS       RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// StorageConfig picks the backlog database.
type StorageConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	DSN    string `koanf:"dsn"`
}

// SourcesConfig groups the external data sources.
type SourcesConfig struct {
	Whois    WhoisConfig    `koanf:"whois"`
	Registry RegistryConfig `koanf:"registry"`
	Snapshot SnapshotConfig `koanf:"snapshot"`
	Scoring  ScoringConfig  `koanf:"scoring"`
}

type WhoisConfig struct {
	Server  string        `koanf:"server"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
	TTL     time.Duration `koanf:"ttl"`
}

type RegistryConfig struct {
	BaseURL        string        `koanf:"baseURL"`
	ProxyURL       string        `koanf:"proxyURL"`
	ProxyToken     string        `koanf:"proxyToken"`
	ProxyTokenFile string        `koanf:"proxyTokenFile"`
	Timeout        time.Duration `koanf:"timeout"`
	EntityTTL      time.Duration `koanf:"entityTTL"`
	SearchTTL      time.Duration `koanf:"searchTTL"`
}

type SnapshotConfig struct {
	BaseURL           string        `koanf:"baseURL"`
	Timeout           time.Duration `koanf:"timeout"`
	TTL               time.Duration `koanf:"ttl"`
	RequestsPerMinute int           `koanf:"requestsPerMinute"`
	SampleContent     bool          `koanf:"sampleContent"`
}

type ScoringConfig struct {
	Endpoint        string        `koanf:"endpoint"`
	APIKey          string        `koanf:"apiKey"`
	APIKeyFile      string        `koanf:"apiKeyFile"`
	Model           string        `koanf:"model"`
	Timeout         time.Duration `koanf:"timeout"`
	TemplatesFolder string        `koanf:"templatesFolder"`
}

// BatchConfig carries the orchestrator policies.
type BatchConfig struct {
	Size               int           `koanf:"size"`
	Delay              time.Duration `koanf:"delay"`
	MaxSize            int           `koanf:"maxSize"`
	StaleAfter         time.Duration `koanf:"staleAfter"`
	MaxAttempts        int           `koanf:"maxAttempts"`
	SkipEnrichmentWhen string        `koanf:"skipEnrichmentWhen"`
}

type RetryConfig struct {
	MaxAttempts int           `koanf:"maxAttempts"`
	Delay       time.Duration `koanf:"delay"`
	Multiplier  float64       `koanf:"multiplier"`
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}

	switch strings.TrimSpace(strings.ToLower(c.Cache.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Address) == "" {
			return errors.New("config: cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend)
	}
	if c.Cache.LocalTTL < 0 {
		return fmt.Errorf("config: cache.localTTL invalid: %s", c.Cache.LocalTTL)
	}

	switch strings.TrimSpace(strings.ToLower(c.Storage.Driver)) {
	case "", "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("config: storage.path required for sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("config: storage.dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("config: storage.driver unsupported: %s", c.Storage.Driver)
	}

	whois := c.Sources.Whois
	if strings.TrimSpace(whois.Server) == "" {
		return errors.New("config: sources.whois.server required")
	}
	if whois.Port <= 0 || whois.Port > 65535 {
		return fmt.Errorf("config: sources.whois.port invalid: %d", whois.Port)
	}

	if err := validateURL("server.tracing.endpoint", c.Server.Tracing.Endpoint, false); err != nil {
		return err
	}
	if err := validateURL("sources.registry.baseURL", c.Sources.Registry.BaseURL, true); err != nil {
		return err
	}
	if err := validateURL("sources.registry.proxyURL", c.Sources.Registry.ProxyURL, false); err != nil {
		return err
	}
	if err := validateURL("sources.snapshot.baseURL", c.Sources.Snapshot.BaseURL, true); err != nil {
		return err
	}
	if c.Sources.Snapshot.RequestsPerMinute < 0 {
		return fmt.Errorf("config: sources.snapshot.requestsPerMinute invalid: %d", c.Sources.Snapshot.RequestsPerMinute)
	}
	if err := validateURL("sources.scoring.endpoint", c.Sources.Scoring.Endpoint, true); err != nil {
		return err
	}
	if strings.TrimSpace(c.Sources.Scoring.Model) == "" {
		return errors.New("config: sources.scoring.model required")
	}

	durations := map[string]time.Duration{
		"sources.whois.timeout":      whois.Timeout,
		"sources.whois.ttl":          whois.TTL,
		"sources.registry.timeout":   c.Sources.Registry.Timeout,
		"sources.registry.entityTTL": c.Sources.Registry.EntityTTL,
		"sources.registry.searchTTL": c.Sources.Registry.SearchTTL,
		"sources.snapshot.timeout":   c.Sources.Snapshot.Timeout,
		"sources.snapshot.ttl":       c.Sources.Snapshot.TTL,
		"sources.scoring.timeout":    c.Sources.Scoring.Timeout,
		"batch.delay":                c.Batch.Delay,
		"batch.staleAfter":           c.Batch.StaleAfter,
		"retry.delay":                c.Retry.Delay,
	}
	for name, value := range durations {
		if value < 0 {
			return fmt.Errorf("config: %s invalid: %s", name, value)
		}
	}

	if c.Batch.Size <= 0 {
		return fmt.Errorf("config: batch.size invalid: %d", c.Batch.Size)
	}
	if c.Batch.MaxSize < c.Batch.Size {
		return fmt.Errorf("config: batch.maxSize %d below batch.size %d", c.Batch.MaxSize, c.Batch.Size)
	}
	if c.Batch.MaxAttempts <= 0 {
		return fmt.Errorf("config: batch.maxAttempts invalid: %d", c.Batch.MaxAttempts)
	}
	if strings.TrimSpace(c.Batch.SkipEnrichmentWhen) != "" {
		if _, err := expr.NewSkipPolicy(c.Batch.SkipEnrichmentWhen); err != nil {
			return fmt.Errorf("config: batch.skipEnrichmentWhen: %w", err)
		}
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config: retry.maxAttempts invalid: %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("config: retry.multiplier must be >= 1: %v", c.Retry.Multiplier)
	}
	return nil
}

func validateURL(name, raw string, required bool) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if required {
			return fmt.Errorf("config: %s required", name)
		}
		return nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("config: %s invalid: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("config: %s must be http or https: %s", name, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("config: %s missing host: %s", name, raw)
	}
	return nil
}

// DefaultConfig returns the baseline values the loader layers files and env on top of.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Tracing: TracingConfig{
				ServiceName: "domainscout",
			},
		},
		Cache: CacheConfig{
			Backend:  "memory",
			LocalTTL: 10 * time.Minute,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./domainscout.db",
		},
		Sources: SourcesConfig{
			Whois: WhoisConfig{
				Server:  "whois.nic.cl",
				Port:    43,
				Timeout: 10 * time.Second,
				TTL:     168 * time.Hour,
			},
			Registry: RegistryConfig{
				BaseURL:   "https://api.bgpview.io",
				Timeout:   15 * time.Second,
				EntityTTL: 336 * time.Hour,
				SearchTTL: 72 * time.Hour,
			},
			Snapshot: SnapshotConfig{
				BaseURL:           "https://web.archive.org",
				Timeout:           20 * time.Second,
				TTL:               168 * time.Hour,
				RequestsPerMinute: 15,
				SampleContent:     true,
			},
			Scoring: ScoringConfig{
				Endpoint: "https://api.openai.com/v1/chat/completions",
				Model:    "gpt-4o-mini",
				Timeout:  25 * time.Second,
			},
		},
		Batch: BatchConfig{
			Size:               10,
			Delay:              2 * time.Second,
			MaxSize:            50,
			StaleAfter:         168 * time.Hour,
			MaxAttempts:        3,
			SkipEnrichmentWhen: "enrichment.checked && enrichment.had_public_site",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delay:       500 * time.Millisecond,
			Multiplier:  2,
		},
	}
}
