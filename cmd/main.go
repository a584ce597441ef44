package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/domainscout/internal/config"
	"github.com/l0p7/domainscout/internal/expr"
	"github.com/l0p7/domainscout/internal/logging"
	"github.com/l0p7/domainscout/internal/metrics"
	"github.com/l0p7/domainscout/internal/runtime"
	"github.com/l0p7/domainscout/internal/runtime/cache"
	"github.com/l0p7/domainscout/internal/runtime/enrichment"
	"github.com/l0p7/domainscout/internal/runtime/lookup"
	"github.com/l0p7/domainscout/internal/runtime/persistence"
	"github.com/l0p7/domainscout/internal/runtime/pipeline"
	"github.com/l0p7/domainscout/internal/runtime/scoring"
	"github.com/l0p7/domainscout/internal/server"
	"github.com/l0p7/domainscout/internal/sources"
	"github.com/l0p7/domainscout/internal/sources/asn"
	"github.com/l0p7/domainscout/internal/sources/snapshot"
	"github.com/l0p7/domainscout/internal/sources/whois"
	"github.com/l0p7/domainscout/internal/storage"
	"github.com/l0p7/domainscout/internal/storage/postgres"
	"github.com/l0p7/domainscout/internal/storage/sqlite"
	"github.com/l0p7/domainscout/internal/templates"
	"github.com/l0p7/domainscout/internal/tracing"
)

type configLoader interface {
	Load(context.Context) (config.Config, error)
}

type runnableServer interface {
	Run(context.Context) error
}

var newConfigLoader = func(envPrefix, file string) configLoader {
	return config.NewLoader(envPrefix, file)
}

var newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
	return server.New(cfg, logger, handler)
}

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "DOMAINSCOUT", "environment variable prefix")
		once       = flag.Bool("once", false, "run a single batch and exit")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile, *once); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string, once bool) error {
	cfg, err := newConfigLoader(envPrefix, configFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Server.Tracing)
	if err != nil {
		return fmt.Errorf("configure tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("trace flush failed", slog.Any("error", err))
		}
	}()

	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("storage close failed", slog.Any("error", err))
		}
	}()

	local := buildLocalCache(logger.With(slog.String("agent", "cache_factory")), cfg.Cache)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := local.Close(closeCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()
	families := make(map[string]cache.Store, len(storage.CacheTables))
	for family := range storage.CacheTables {
		tiered, err := buildFamilyStore(store, local, recorder, family, cfg.Cache.LocalTTL)
		if err != nil {
			return err
		}
		families[family] = tiered
	}

	retry := sources.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delay:       cfg.Retry.Delay,
		Multiplier:  cfg.Retry.Multiplier,
	}
	whoisClient := whois.New(whois.Config{
		Server:  cfg.Sources.Whois.Server,
		Port:    cfg.Sources.Whois.Port,
		Timeout: cfg.Sources.Whois.Timeout,
		Retry:   retry,
		Logger:  logger,
		Metrics: recorder,
	})
	registry := asn.New(asn.Config{
		BaseURL:    cfg.Sources.Registry.BaseURL,
		ProxyURL:   cfg.Sources.Registry.ProxyURL,
		ProxyToken: cfg.Sources.Registry.ProxyToken,
		Timeout:    cfg.Sources.Registry.Timeout,
		Retry:      retry,
		Logger:     logger,
		Metrics:    recorder,
	})
	index := snapshot.New(snapshot.Config{
		BaseURL:           cfg.Sources.Snapshot.BaseURL,
		Timeout:           cfg.Sources.Snapshot.Timeout,
		RequestsPerMinute: cfg.Sources.Snapshot.RequestsPerMinute,
		Retry:             retry,
		Logger:            logger,
		Metrics:           recorder,
	})

	prompts, err := templates.NewPrompts(cfg.Sources.Scoring.TemplatesFolder)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	if prompts.Folder() != "" && !once {
		watcher, err := prompts.Watch(ctx, func() {
			logger.Info("scoring prompts reloaded", slog.String("folder", prompts.Folder()))
		}, func(err error) {
			logger.Error("scoring prompt reload failed", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("prompt watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	scorer, err := scoring.New(scoring.Config{
		Endpoint: cfg.Sources.Scoring.Endpoint,
		APIKey:   cfg.Sources.Scoring.APIKey,
		Model:    cfg.Sources.Scoring.Model,
		Timeout:  cfg.Sources.Scoring.Timeout,
		Prompts:  prompts,
		Logger:   logger,
		Metrics:  recorder,
	})
	if err != nil {
		return fmt.Errorf("configure scoring: %w", err)
	}

	var skip *expr.SkipPolicy
	if expression := strings.TrimSpace(cfg.Batch.SkipEnrichmentWhen); expression != "" {
		if skip, err = expr.NewSkipPolicy(expression); err != nil {
			return fmt.Errorf("compile enrichment skip policy: %w", err)
		}
	}
	collector := enrichment.NewCollector(enrichment.Config{
		Index:         index,
		Cache:         families[storage.FamilySnapshotIndex],
		TTL:           cfg.Sources.Snapshot.TTL,
		SampleContent: cfg.Sources.Snapshot.SampleContent,
		Logger:        logger,
	})

	orchestrator, err := runtime.New(runtime.Options{
		Store: store,
		Agents: []pipeline.Agent{
			enrichment.NewAgent(collector, skip, logger),
			persistence.NewEnrichmentWriter(store, logger),
			scoring.NewAgent(scorer, cfg.Batch.StaleAfter, logger),
			persistence.NewAnalysisWriter(store, logger),
		},
		Batch:   cfg.Batch,
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	if once {
		summary, err := orchestrator.Run(ctx, orchestrator.DefaultRequest())
		if err != nil {
			return fmt.Errorf("batch run: %w", err)
		}
		if summary.State == runtime.StateAbortedRateLimit || summary.State == runtime.StateAbortedQuota {
			return fmt.Errorf("batch %s stopped early: %s", summary.BatchID, summary.State)
		}
		return nil
	}

	lookups := lookup.New(lookup.Config{
		Registry:    registry,
		Whois:       whoisClient,
		EntityStore: families[storage.FamilyASNEntity],
		SearchStore: families[storage.FamilyASNSearch],
		WhoisStore:  families[storage.FamilyWhoisRecord],
		EntityTTL:   cfg.Sources.Registry.EntityTTL,
		SearchTTL:   cfg.Sources.Registry.SearchTTL,
		WhoisTTL:    cfg.Sources.Whois.TTL,
		Logger:      logger,
	})
	handler := server.NewRouter(server.Deps{
		Batcher: orchestrator,
		Backlog: store,
		Lookups: lookups,
		Metrics: recorder.Handler(),
		Logger:  logger,
	})

	srv, err := newHTTPServer(cfg, logger, handler)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case "", "sqlite":
		return sqlite.Open(ctx, cfg.Path)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// buildFamilyStore puts the process-local tier in front of the family's SQL
// table. Local entries live at most localTTL.
func buildFamilyStore(store storage.Store, local cache.Store, recorder *metrics.Recorder, family string, localTTL time.Duration) (cache.Store, error) {
	table, err := store.CacheTable(family)
	if err != nil {
		return nil, fmt.Errorf("cache table %s: %w", family, err)
	}
	return cache.NewTiered(family, recorder,
		cache.Tier{Name: "local", Store: local, MaxTTL: localTTL},
		cache.Tier{Name: "persistent", Store: table},
	), nil
}

func buildLocalCache(logger *slog.Logger, cfg config.CacheConfig) cache.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory cache tier", slog.Duration("local_ttl", cfg.LocalTTL))
		return cache.NewMemory()
	case "redis":
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Namespace: cfg.Redis.Namespace,
			Address:   cfg.Redis.Address,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return cache.NewMemory()
		}
		logger.Info("using redis cache tier", slog.String("address", cfg.Redis.Address))
		return redisCache
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory()
	}
}
