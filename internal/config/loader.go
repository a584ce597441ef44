package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective configuration snapshot.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}
	canonical := canonicalKeys(k.Keys())

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (DOMAINSCOUT_SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(lower, "_", "")
			if mapped, ok := canonical[key]; ok {
				return mapped
			}
			return key
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := resolveSecrets(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension for %s", path)
	}
}

// canonicalKeys maps lowercased default keys back to their camelCase form so env
// overrides land on the same path the defaults and files use.
func canonicalKeys(keys []string) map[string]string {
	out := make(map[string]string, len(keys)*2)
	for _, key := range keys {
		lower := strings.ToLower(key)
		out[lower] = key
		out[strings.ReplaceAll(lower, "_", "")] = key
	}
	return out
}

// resolveSecrets replaces inline credentials with file contents when a *File
// variant is configured.
func resolveSecrets(cfg *Config) error {
	load := func(name, path string, target *string) error {
		path = strings.TrimSpace(path)
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", name, err)
		}
		*target = strings.TrimRight(string(data), "\r\n")
		return nil
	}
	if err := load("sources.scoring.apiKeyFile", cfg.Sources.Scoring.APIKeyFile, &cfg.Sources.Scoring.APIKey); err != nil {
		return err
	}
	return load("sources.registry.proxyTokenFile", cfg.Sources.Registry.ProxyTokenFile, &cfg.Sources.Registry.ProxyToken)
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"tracing": map[string]any{
				"endpoint":    cfg.Server.Tracing.Endpoint,
				"serviceName": cfg.Server.Tracing.ServiceName,
			},
		},
		"cache": map[string]any{
			"backend":  cfg.Cache.Backend,
			"localTTL": cfg.Cache.LocalTTL,
			"redis": map[string]any{
				"address":  cfg.Cache.Redis.Address,
				"username": cfg.Cache.Redis.Username,
				"password": cfg.Cache.Redis.Password,
				"db":       cfg.Cache.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Cache.Redis.TLS.Enabled,
					"caFile":  cfg.Cache.Redis.TLS.CAFile,
				},
			},
		},
		"storage": map[string]any{
			"driver": cfg.Storage.Driver,
			"path":   cfg.Storage.Path,
			"dsn":    cfg.Storage.DSN,
		},
		"sources": map[string]any{
			"whois": map[string]any{
				"server":  cfg.Sources.Whois.Server,
				"port":    cfg.Sources.Whois.Port,
				"timeout": cfg.Sources.Whois.Timeout,
				"ttl":     cfg.Sources.Whois.TTL,
			},
			"registry": map[string]any{
				"baseURL":        cfg.Sources.Registry.BaseURL,
				"proxyURL":       cfg.Sources.Registry.ProxyURL,
				"proxyToken":     cfg.Sources.Registry.ProxyToken,
				"proxyTokenFile": cfg.Sources.Registry.ProxyTokenFile,
				"timeout":        cfg.Sources.Registry.Timeout,
				"entityTTL":      cfg.Sources.Registry.EntityTTL,
				"searchTTL":      cfg.Sources.Registry.SearchTTL,
			},
			"snapshot": map[string]any{
				"baseURL":           cfg.Sources.Snapshot.BaseURL,
				"timeout":           cfg.Sources.Snapshot.Timeout,
				"ttl":               cfg.Sources.Snapshot.TTL,
				"requestsPerMinute": cfg.Sources.Snapshot.RequestsPerMinute,
				"sampleContent":     cfg.Sources.Snapshot.SampleContent,
			},
			"scoring": map[string]any{
				"endpoint":        cfg.Sources.Scoring.Endpoint,
				"apiKey":          cfg.Sources.Scoring.APIKey,
				"apiKeyFile":      cfg.Sources.Scoring.APIKeyFile,
				"model":           cfg.Sources.Scoring.Model,
				"timeout":         cfg.Sources.Scoring.Timeout,
				"templatesFolder": cfg.Sources.Scoring.TemplatesFolder,
			},
		},
		"batch": map[string]any{
			"size":               cfg.Batch.Size,
			"delay":              cfg.Batch.Delay,
			"maxSize":            cfg.Batch.MaxSize,
			"staleAfter":         cfg.Batch.StaleAfter,
			"maxAttempts":        cfg.Batch.MaxAttempts,
			"skipEnrichmentWhen": cfg.Batch.SkipEnrichmentWhen,
		},
		"retry": map[string]any{
			"maxAttempts": cfg.Retry.MaxAttempts,
			"delay":       cfg.Retry.Delay,
			"multiplier":  cfg.Retry.Multiplier,
		},
	}
}
