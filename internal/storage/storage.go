// Package storage defines the persistence contracts for the opportunity
// backlog and the per-family cache tables.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/runtime/cache"
)

var (
	// ErrNotFound is returned when no opportunity exists for a name.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the stored status.
	ErrInvalidTransition = errors.New("storage: invalid status transition")
	// ErrUnknownFamily is returned for cache families without a table.
	ErrUnknownFamily = errors.New("storage: unknown cache family")
)

// Cache family names, one SQL table each.
const (
	FamilyASNEntity     = "asn_entity"
	FamilyASNSearch     = "asn_search"
	FamilyWhoisRecord   = "whois_record"
	FamilySnapshotIndex = "snapshot_index"
)

// CacheTables maps each family to its table.
var CacheTables = map[string]string{
	FamilyASNEntity:     "asn_entity_cache",
	FamilyASNSearch:     "asn_search_cache",
	FamilyWhoisRecord:   "whois_cache",
	FamilySnapshotIndex: "snapshot_cache",
}

// Opportunities is the backlog of tracked domains. Every write is a single
// statement keyed by the domain name; no transaction spans two items.
type Opportunities interface {
	// Track inserts opp if its name is new. added is false for duplicates.
	Track(ctx context.Context, opp opportunity.Opportunity) (added bool, err error)
	Get(ctx context.Context, name string) (opportunity.Opportunity, error)
	// SelectPending returns up to limit pending items, oldest first.
	SelectPending(ctx context.Context, limit int) ([]opportunity.Opportunity, error)
	CountPending(ctx context.Context) (int, error)
	// SaveEnrichment stores collector output without touching status.
	SaveEnrichment(ctx context.Context, name string, enrichment opportunity.Enrichment, now time.Time) error
	// SaveAnalysis upserts an analyzed opportunity. Rows already purchased or
	// failed keep their status.
	SaveAnalysis(ctx context.Context, opp opportunity.Opportunity) error
	// RecordFailure bumps the attempt counter of a pending item and marks it
	// failed once maxAttempts is reached.
	RecordFailure(ctx context.Context, name, message string, maxAttempts int, now time.Time) (opportunity.Opportunity, error)
	MarkPurchased(ctx context.Context, name string, now time.Time) (opportunity.Opportunity, error)
}

// Store is the full persistence surface of one database.
type Store interface {
	Opportunities
	// CacheTable returns the cache.Store backed by family's table.
	CacheTable(family string) (cache.Store, error)
	Close() error
}
