package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Family is a typed view over a Store for one kind of payload. Keys are
// namespaced by the family name so families can share a store.
type Family[T any] struct {
	name   string
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	group  singleflight.Group
}

// FamilyOption customises a Family.
type FamilyOption func(*familyOptions)

type familyOptions struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) FamilyOption {
	return func(o *familyOptions) { o.now = now }
}

// WithLogger attaches a logger for non-fatal cache failures.
func WithLogger(logger *slog.Logger) FamilyOption {
	return func(o *familyOptions) { o.logger = logger }
}

// NewFamily builds a Family that stores values for ttl.
func NewFamily[T any](name string, store Store, ttl time.Duration, opts ...FamilyOption) *Family[T] {
	o := familyOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Family[T]{
		name:   name,
		store:  store,
		ttl:    ttl,
		now:    o.now,
		logger: logger.With(slog.String("cache_family", name)),
	}
}

// Name returns the family name.
func (f *Family[T]) Name() string { return f.name }

// TTL returns how long fetched values stay valid.
func (f *Family[T]) TTL() time.Duration { return f.ttl }

func (f *Family[T]) key(key string) string { return f.name + ":" + key }

// Get returns the cached value for key. Read and decode failures are logged
// and reported as a miss.
func (f *Family[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	if f.store == nil {
		return zero, false
	}
	entry, ok, err := f.store.Lookup(ctx, f.key(key))
	if err != nil {
		f.logger.WarnContext(ctx, "cache lookup failed, treating as miss",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return zero, false
	}
	if !ok || !entry.Live(f.now()) {
		return zero, false
	}
	var value T
	if err := json.Unmarshal(entry.Payload, &value); err != nil {
		f.logger.WarnContext(ctx, "cache payload undecodable, treating as miss",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return zero, false
	}
	return value, true
}

// Put stores value under key for the family TTL.
func (f *Family[T]) Put(ctx context.Context, key string, value T) error {
	if f.store == nil || f.ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", f.name, err)
	}
	if err := f.store.Store(ctx, f.key(key), NewEntry(payload, f.now(), f.ttl)); err != nil {
		return fmt.Errorf("cache: store %s: %w", f.name, err)
	}
	return nil
}

// GetOrFetch returns the cached value, or calls fetch and caches its result.
// Concurrent callers for the same key share one fetch, which runs detached
// from any single caller's cancellation; each caller still returns as soon as
// its own ctx ends. A failed cache write is logged and the fetched value is
// still returned. Fetch errors are never cached.
func (f *Family[T]) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if value, ok := f.Get(ctx, key); ok {
		return value, true, nil
	}
	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (any, error) {
		if value, ok := f.Get(shared, key); ok {
			return value, nil
		}
		value, err := fetch(shared)
		if err != nil {
			return value, err
		}
		if err := f.Put(shared, key, value); err != nil {
			f.logger.WarnContext(shared, "cache write failed, continuing with fresh value",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return value, nil
	})
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		return res.Val.(T), false, nil
	}
}
