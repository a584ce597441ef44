// Package lookup serves registry and whois records cache-first.
package lookup

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/l0p7/domainscout/internal/logging"
	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/runtime/cache"
	"github.com/l0p7/domainscout/internal/sources/asn"
	"github.com/l0p7/domainscout/internal/sources/whois"
	"github.com/l0p7/domainscout/internal/storage"
)

var tracer = otel.Tracer("github.com/l0p7/domainscout/internal/runtime/lookup")

// Registry is the AS registry source.
type Registry interface {
	ASN(ctx context.Context, number int) (asn.Entity, error)
	Prefixes(ctx context.Context, number int) (asn.Prefixes, error)
	Peers(ctx context.Context, number int) (asn.Peers, error)
	Search(ctx context.Context, term string) (asn.SearchResult, error)
}

// Whois is the registration record source.
type Whois interface {
	Lookup(ctx context.Context, domain string) (whois.Record, error)
}

// Config wires a Service. Nil stores disable caching for that family.
type Config struct {
	Registry    Registry
	Whois       Whois
	EntityStore cache.Store
	SearchStore cache.Store
	WhoisStore  cache.Store
	EntityTTL   time.Duration
	SearchTTL   time.Duration
	WhoisTTL    time.Duration
	Logger      *slog.Logger
}

// Service answers lookups from the cache families before the sources.
type Service struct {
	registry Registry
	whois    Whois
	entities *cache.Family[asn.Entity]
	prefixes *cache.Family[asn.Prefixes]
	peers    *cache.Family[asn.Peers]
	searches *cache.Family[asn.SearchResult]
	records  *cache.Family[whois.Record]
}

// New builds a lookup service.
func New(cfg Config) *Service {
	logger := logging.Agent(cfg.Logger, "lookup")
	opt := cache.WithLogger(logger)
	return &Service{
		registry: cfg.Registry,
		whois:    cfg.Whois,
		entities: cache.NewFamily[asn.Entity](storage.FamilyASNEntity, cfg.EntityStore, cfg.EntityTTL, opt),
		prefixes: cache.NewFamily[asn.Prefixes](storage.FamilyASNEntity, cfg.EntityStore, cfg.EntityTTL, opt),
		peers:    cache.NewFamily[asn.Peers](storage.FamilyASNEntity, cfg.EntityStore, cfg.EntityTTL, opt),
		searches: cache.NewFamily[asn.SearchResult](storage.FamilyASNSearch, cfg.SearchStore, cfg.SearchTTL, opt),
		records:  cache.NewFamily[whois.Record](storage.FamilyWhoisRecord, cfg.WhoisStore, cfg.WhoisTTL, opt),
	}
}

// ASN returns the registry entity for number.
func (s *Service) ASN(ctx context.Context, number int) (asn.Entity, bool, error) {
	key := strconv.Itoa(number)
	return traced(ctx, "lookup.asn", key, func(ctx context.Context) (asn.Entity, bool, error) {
		return s.entities.GetOrFetch(ctx, key, func(ctx context.Context) (asn.Entity, error) {
			return s.registry.ASN(ctx, number)
		})
	})
}

// Prefixes returns the announced prefixes of number.
func (s *Service) Prefixes(ctx context.Context, number int) (asn.Prefixes, bool, error) {
	key := strconv.Itoa(number) + "/prefixes"
	return traced(ctx, "lookup.asn_prefixes", key, func(ctx context.Context) (asn.Prefixes, bool, error) {
		return s.prefixes.GetOrFetch(ctx, key, func(ctx context.Context) (asn.Prefixes, error) {
			return s.registry.Prefixes(ctx, number)
		})
	})
}

// Peers returns the peers of number.
func (s *Service) Peers(ctx context.Context, number int) (asn.Peers, bool, error) {
	key := strconv.Itoa(number) + "/peers"
	return traced(ctx, "lookup.asn_peers", key, func(ctx context.Context) (asn.Peers, bool, error) {
		return s.peers.GetOrFetch(ctx, key, func(ctx context.Context) (asn.Peers, error) {
			return s.registry.Peers(ctx, number)
		})
	})
}

// Search runs a registry search. Terms are cached case-insensitively.
func (s *Service) Search(ctx context.Context, term string) (asn.SearchResult, bool, error) {
	term = strings.TrimSpace(term)
	key := strings.ToLower(term)
	return traced(ctx, "lookup.asn_search", key, func(ctx context.Context) (asn.SearchResult, bool, error) {
		return s.searches.GetOrFetch(ctx, key, func(ctx context.Context) (asn.SearchResult, error) {
			return s.registry.Search(ctx, term)
		})
	})
}

// Whois returns the registration record of the registrable part of domain.
func (s *Service) Whois(ctx context.Context, domain string) (whois.Record, bool, error) {
	name, _, err := opportunity.Normalize(domain)
	if err != nil {
		return whois.Record{}, false, err
	}
	return traced(ctx, "lookup.whois", name, func(ctx context.Context) (whois.Record, bool, error) {
		return s.records.GetOrFetch(ctx, name, func(ctx context.Context) (whois.Record, error) {
			return s.whois.Lookup(ctx, name)
		})
	})
}

func traced[T any](ctx context.Context, name, key string, fn func(context.Context) (T, bool, error)) (T, bool, error) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.String("lookup.key", key)))
	defer span.End()
	value, cached, err := fn(ctx)
	span.SetAttributes(attribute.Bool("cached", cached))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return value, cached, err
}
