// Package cache implements the time-boxed cache-or-fetch layer shared by every
// external source: interchangeable stores, a tiered composition of them, and
// typed families that deduplicate concurrent fetches.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrExpiryRequired is returned when an entry is stored without an expiry.
var ErrExpiryRequired = errors.New("cache: entry expiry required")

// Entry is one cached payload and its validity window.
type Entry struct {
	Payload   []byte    `json:"payload"`
	StoredAt  time.Time `json:"storedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewEntry stamps payload as stored at now and valid for ttl.
func NewEntry(payload []byte, now time.Time, ttl time.Duration) Entry {
	now = now.UTC()
	return Entry{Payload: payload, StoredAt: now, ExpiresAt: now.Add(ttl)}
}

// Live reports whether the entry is still valid at now. An entry whose expiry
// equals now is already expired.
func (e Entry) Live(now time.Time) bool {
	return e.ExpiresAt.After(now)
}

// Remaining is the validity left at now, never negative.
func (e Entry) Remaining(now time.Time) time.Duration {
	if d := e.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Store is the contract every tier implements. Lookup never returns an entry
// that is expired at call time. Store unconditionally replaces the key.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
