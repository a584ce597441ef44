package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/l0p7/domainscout/internal/runtime/cache"
)

// cacheTable is a cache.Store over one (key, payload, cached_at, expires_at)
// table. Expired rows are filtered by the query and left in place.
type cacheTable struct {
	db      *sql.DB
	dialect Dialect
	table   string
	now     func() time.Time
}

func (c *cacheTable) Lookup(ctx context.Context, key string) (cache.Entry, bool, error) {
	var (
		payload   []byte
		cachedAt  int64
		expiresAt int64
	)
	row := c.db.QueryRowContext(ctx, c.dialect.Rebind(
		`SELECT payload, cached_at, expires_at
		   FROM `+c.table+`
		  WHERE key = ? AND expires_at > ?`),
		key,
		toMillis(c.now()),
	)
	if err := row.Scan(&payload, &cachedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cache.Entry{}, false, nil
		}
		return cache.Entry{}, false, fmt.Errorf("cache lookup %s: %w", c.table, err)
	}
	return cache.Entry{Payload: payload, StoredAt: fromMillis(cachedAt), ExpiresAt: fromMillis(expiresAt)}, true, nil
}

func (c *cacheTable) Store(ctx context.Context, key string, entry cache.Entry) error {
	if entry.ExpiresAt.IsZero() {
		return cache.ErrExpiryRequired
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = c.now()
	}
	_, err := c.db.ExecContext(ctx, c.dialect.Rebind(
		`INSERT INTO `+c.table+` (key, payload, cached_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
		   payload = excluded.payload,
		   cached_at = excluded.cached_at,
		   expires_at = excluded.expires_at`),
		key,
		entry.Payload,
		toMillis(storedAt),
		toMillis(entry.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("cache store %s: %w", c.table, err)
	}
	return nil
}

func (c *cacheTable) Size(ctx context.Context) (int64, error) {
	var count int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache size %s: %w", c.table, err)
	}
	return count, nil
}

// Close is a no-op; the owning Store closes the database.
func (c *cacheTable) Close(context.Context) error { return nil }
