package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/l0p7/domainscout/internal/metrics"
)

// Tier names one layer of a Tiered store. MaxTTL caps how long entries live in
// this tier; zero keeps the entry's own expiry.
type Tier struct {
	Name   string
	Store  Store
	MaxTTL time.Duration
}

// Tiered reads tiers in order and backfills faster tiers on a hit further
// down. Writes go to every tier. A failing tier counts as a miss.
type Tiered struct {
	family  string
	tiers   []Tier
	now     func() time.Time
	metrics *metrics.Recorder
}

// NewTiered composes tiers for one cache family. Nil stores are skipped.
func NewTiered(family string, recorder *metrics.Recorder, tiers ...Tier) *Tiered {
	kept := make([]Tier, 0, len(tiers))
	for _, tier := range tiers {
		if tier.Store != nil {
			kept = append(kept, tier)
		}
	}
	return &Tiered{family: family, tiers: kept, now: time.Now, metrics: recorder}
}

// Lookup returns the first live entry. Lookup errors are returned only when
// no tier produced a hit.
func (t *Tiered) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	var errs []error
	for i, tier := range t.tiers {
		start := time.Now()
		entry, ok, err := tier.Store.Lookup(ctx, key)
		switch {
		case err != nil:
			t.metrics.ObserveCacheLookup(t.family, tier.Name, metrics.CacheLookupError, time.Since(start))
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
			continue
		case !ok || !entry.Live(t.now()):
			t.metrics.ObserveCacheLookup(t.family, tier.Name, metrics.CacheLookupMiss, time.Since(start))
			continue
		}
		t.metrics.ObserveCacheLookup(t.family, tier.Name, metrics.CacheLookupHit, time.Since(start))
		for _, faster := range t.tiers[:i] {
			// Backfill failures only cost a future round trip.
			_ = t.storeTier(ctx, faster, key, entry)
		}
		return entry, true, nil
	}
	return Entry{}, false, errors.Join(errs...)
}

// Store writes entry to every tier and joins their errors.
func (t *Tiered) Store(ctx context.Context, key string, entry Entry) error {
	if entry.ExpiresAt.IsZero() {
		return ErrExpiryRequired
	}
	var errs []error
	for _, tier := range t.tiers {
		if err := t.storeTier(ctx, tier, key, entry); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Tiered) storeTier(ctx context.Context, tier Tier, key string, entry Entry) error {
	if tier.MaxTTL > 0 {
		if capped := t.now().Add(tier.MaxTTL); capped.Before(entry.ExpiresAt) {
			entry.ExpiresAt = capped
		}
	}
	start := time.Now()
	err := tier.Store.Store(ctx, key, entry)
	result := metrics.CacheStoreStored
	if err != nil {
		result = metrics.CacheStoreError
	}
	t.metrics.ObserveCacheStore(t.family, tier.Name, result, time.Since(start))
	return err
}

// Size reports the entry count of the slowest tier, which holds every key.
func (t *Tiered) Size(ctx context.Context) (int64, error) {
	if len(t.tiers) == 0 {
		return 0, nil
	}
	return t.tiers[len(t.tiers)-1].Store.Size(ctx)
}

// Close closes every tier.
func (t *Tiered) Close(ctx context.Context) error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
		}
	}
	return errors.Join(errs...)
}
