// Package enrichment derives historical-presence signals for a domain from
// the snapshot index.
package enrichment

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/l0p7/domainscout/internal/logging"
	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/runtime/cache"
	"github.com/l0p7/domainscout/internal/sources"
	"github.com/l0p7/domainscout/internal/sources/snapshot"
	"github.com/l0p7/domainscout/internal/storage"
)

var tracer = otel.Tracer("github.com/l0p7/domainscout/internal/runtime/enrichment")

// Index is the snapshot source the collector reads.
type Index interface {
	Index(ctx context.Context, domain string) ([]snapshot.Capture, error)
	Content(ctx context.Context, capture snapshot.Capture) ([]byte, error)
}

// Outcome describes how an enrichment was obtained.
type Outcome struct {
	// Degraded is set when the index could not be read; the enrichment then
	// carries no history but is still marked checked.
	Degraded bool
	Reason   string
	Cached   bool
}

// Config wires a Collector.
type Config struct {
	Index         Index
	Cache         cache.Store
	TTL           time.Duration
	SampleContent bool
	Logger        *slog.Logger
}

// Collector turns snapshot captures into an opportunity.Enrichment.
type Collector struct {
	index         Index
	captures      *cache.Family[[]snapshot.Capture]
	sampleContent bool
	logger        *slog.Logger
}

// NewCollector builds a collector. A nil cache store disables caching.
func NewCollector(cfg Config) *Collector {
	logger := logging.Agent(cfg.Logger, "enrichment")
	return &Collector{
		index:         cfg.Index,
		captures:      cache.NewFamily[[]snapshot.Capture](storage.FamilySnapshotIndex, cfg.Cache, cfg.TTL, cache.WithLogger(logger)),
		sampleContent: cfg.SampleContent,
		logger:        logger,
	}
}

// Collect never fails: source errors degrade to an enrichment without history.
// The returned enrichment is always marked checked.
func (c *Collector) Collect(ctx context.Context, domain string) (opportunity.Enrichment, Outcome) {
	ctx, span := tracer.Start(ctx, "enrichment.collect")
	span.SetAttributes(attribute.String("domain", domain))
	defer span.End()

	enrichment := opportunity.Enrichment{Checked: true}

	captures, cached, err := c.captures.GetOrFetch(ctx, domain, func(ctx context.Context) ([]snapshot.Capture, error) {
		return c.index.Index(ctx, domain)
	})
	if err != nil {
		reason := string(sources.KindOf(err))
		span.SetStatus(codes.Error, err.Error())
		c.logger.InfoContext(ctx, "enrichment degraded",
			slog.String("domain", domain),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return enrichment, Outcome{Degraded: true, Reason: reason}
	}

	summary := snapshot.Summarize(captures)
	span.SetAttributes(attribute.Int("snapshot.count", summary.Count), attribute.Bool("cached", cached))
	if summary.Count == 0 {
		return enrichment, Outcome{Cached: cached}
	}

	enrichment.SnapshotCount = summary.Count
	enrichment.FirstSeen = day(summary.FirstSeen)
	enrichment.LastSeen = day(summary.LastSeen)
	enrichment.HadPublicSite = true
	enrichment.ContentCategory = c.categorize(ctx, domain, captures)
	return enrichment, Outcome{Cached: cached}
}

// categorize classifies the most recent capture. The category stays empty
// when sampling is off or the archived page cannot be fetched; general is
// reserved for a fetched page that matched nothing.
func (c *Collector) categorize(ctx context.Context, domain string, captures []snapshot.Capture) opportunity.ContentCategory {
	if !c.sampleContent {
		return ""
	}
	latest, ok := latestCapture(captures)
	if !ok {
		return ""
	}
	page, err := c.index.Content(ctx, latest)
	if err != nil {
		c.logger.InfoContext(ctx, "snapshot content unavailable",
			slog.String("domain", domain),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return Classify(page)
}

func latestCapture(captures []snapshot.Capture) (snapshot.Capture, bool) {
	var latest snapshot.Capture
	found := false
	for _, capture := range captures {
		if capture.Timestamp.IsZero() {
			continue
		}
		if !found || capture.Timestamp.After(latest.Timestamp) {
			latest, found = capture, true
		}
	}
	return latest, found
}

// day truncates t to midnight UTC.
func day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
