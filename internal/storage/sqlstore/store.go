// Package sqlstore implements storage.Store over database/sql for every
// supported dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/runtime/cache"
	"github.com/l0p7/domainscout/internal/storage"
)

// Store persists opportunities and cache tables in one SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New wraps an open, migrated database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value time.Time) sql.NullInt64 {
	if value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return fromMillis(value.Int64)
}

const opportunityColumns = `name, tld, status,
	snapshot_count, first_seen, last_seen, content_category, had_public_site, enrichment_checked,
	score, category, rationale, estimated_value,
	attempts, last_error, created_at, analyzed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(row rowScanner) (opportunity.Opportunity, error) {
	var (
		opp        opportunity.Opportunity
		status     string
		firstSeen  sql.NullInt64
		lastSeen   sql.NullInt64
		content    string
		score      decimal.NullDecimal
		category   string
		createdAt  int64
		analyzedAt sql.NullInt64
		updatedAt  int64
	)
	if err := row.Scan(
		&opp.Name,
		&opp.TLD,
		&status,
		&opp.Enrichment.SnapshotCount,
		&firstSeen,
		&lastSeen,
		&content,
		&opp.Enrichment.HadPublicSite,
		&opp.Enrichment.Checked,
		&score,
		&category,
		&opp.Scoring.Rationale,
		&opp.Scoring.EstimatedValue,
		&opp.Attempts,
		&opp.LastError,
		&createdAt,
		&analyzedAt,
		&updatedAt,
	); err != nil {
		return opportunity.Opportunity{}, err
	}
	opp.Status = opportunity.Status(status)
	opp.Enrichment.FirstSeen = fromNullMillis(firstSeen)
	opp.Enrichment.LastSeen = fromNullMillis(lastSeen)
	opp.Enrichment.ContentCategory = opportunity.ContentCategory(content)
	opp.Scoring.Score = score
	opp.Scoring.Category = opportunity.Category(category)
	opp.CreatedAt = fromMillis(createdAt)
	opp.AnalyzedAt = fromNullMillis(analyzedAt)
	opp.UpdatedAt = fromMillis(updatedAt)
	return opp, nil
}

// Track inserts opp unless a row with the same name exists.
func (s *Store) Track(ctx context.Context, opp opportunity.Opportunity) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name := strings.TrimSpace(opp.Name)
	if name == "" {
		return false, fmt.Errorf("opportunity name is required")
	}
	createdAt := opp.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	updatedAt := opp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	status := opp.Status
	if status == "" {
		status = opportunity.StatusPending
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO opportunities (name, tld, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO NOTHING`),
		name,
		opp.TLD,
		string(status),
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("track opportunity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("track opportunity: %w", err)
	}
	return affected == 1, nil
}

// Get returns one opportunity by name.
func (s *Store) Get(ctx context.Context, name string) (opportunity.Opportunity, error) {
	if err := ctx.Err(); err != nil {
		return opportunity.Opportunity{}, err
	}
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT `+opportunityColumns+`
		   FROM opportunities
		  WHERE name = ?`),
		strings.TrimSpace(name),
	)
	opp, err := scanOpportunity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return opportunity.Opportunity{}, storage.ErrNotFound
		}
		return opportunity.Opportunity{}, fmt.Errorf("get opportunity: %w", err)
	}
	return opp, nil
}

// SelectPending returns the oldest pending opportunities.
func (s *Store) SelectPending(ctx context.Context, limit int) ([]opportunity.Opportunity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT `+opportunityColumns+`
		   FROM opportunities
		  WHERE status = ?
		  ORDER BY created_at ASC, name ASC
		  LIMIT ?`),
		string(opportunity.StatusPending),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	defer rows.Close()

	out := make([]opportunity.Opportunity, 0, limit)
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("select pending: %w", err)
		}
		out = append(out, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	return out, nil
}

// CountPending counts the backlog with a fresh query.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count int
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT COUNT(*) FROM opportunities WHERE status = ?`),
		string(opportunity.StatusPending),
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

// SaveEnrichment stores collector output for name.
func (s *Store) SaveEnrichment(ctx context.Context, name string, e opportunity.Enrichment, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`UPDATE opportunities
		    SET snapshot_count = ?,
		        first_seen = ?,
		        last_seen = ?,
		        content_category = ?,
		        had_public_site = ?,
		        enrichment_checked = ?,
		        updated_at = ?
		  WHERE name = ?`),
		e.SnapshotCount,
		nullMillis(e.FirstSeen),
		nullMillis(e.LastSeen),
		string(e.ContentCategory),
		e.HadPublicSite,
		e.Checked,
		toMillis(now),
		name,
	)
	if err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveAnalysis upserts opp as analyzed. Replaying the same opportunity
// converges on the same row.
func (s *Store) SaveAnalysis(ctx context.Context, opp opportunity.Opportunity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(opp.Name) == "" {
		return fmt.Errorf("opportunity name is required")
	}
	analyzedAt := opp.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = s.now()
	}
	createdAt := opp.CreatedAt
	if createdAt.IsZero() {
		createdAt = analyzedAt
	}
	e := opp.Enrichment
	sc := opp.Scoring

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO opportunities (`+opportunityColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		   status = excluded.status,
		   snapshot_count = excluded.snapshot_count,
		   first_seen = excluded.first_seen,
		   last_seen = excluded.last_seen,
		   content_category = excluded.content_category,
		   had_public_site = excluded.had_public_site,
		   enrichment_checked = excluded.enrichment_checked,
		   score = excluded.score,
		   category = excluded.category,
		   rationale = excluded.rationale,
		   estimated_value = excluded.estimated_value,
		   last_error = excluded.last_error,
		   analyzed_at = excluded.analyzed_at,
		   updated_at = excluded.updated_at
		 WHERE opportunities.status IN (?, ?)`),
		opp.Name,
		opp.TLD,
		string(opportunity.StatusAnalyzed),
		e.SnapshotCount,
		nullMillis(e.FirstSeen),
		nullMillis(e.LastSeen),
		string(e.ContentCategory),
		e.HadPublicSite,
		e.Checked,
		sc.Score,
		string(sc.Category),
		sc.Rationale,
		sc.EstimatedValue,
		opp.Attempts,
		"",
		toMillis(createdAt),
		toMillis(analyzedAt),
		toMillis(analyzedAt),
		string(opportunity.StatusPending),
		string(opportunity.StatusAnalyzed),
	)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// RecordFailure bumps attempts on a pending item and fails it at maxAttempts.
func (s *Store) RecordFailure(ctx context.Context, name, message string, maxAttempts int, now time.Time) (opportunity.Opportunity, error) {
	if err := ctx.Err(); err != nil {
		return opportunity.Opportunity{}, err
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`UPDATE opportunities
		    SET attempts = attempts + 1,
		        last_error = ?,
		        status = CASE WHEN attempts + 1 >= ? THEN ? ELSE status END,
		        updated_at = ?
		  WHERE name = ? AND status = ?`),
		message,
		maxAttempts,
		string(opportunity.StatusFailed),
		toMillis(now),
		name,
		string(opportunity.StatusPending),
	)
	if err != nil {
		return opportunity.Opportunity{}, fmt.Errorf("record failure: %w", err)
	}
	return s.afterTransition(ctx, res, name)
}

// MarkPurchased moves an analyzed opportunity to purchased.
func (s *Store) MarkPurchased(ctx context.Context, name string, now time.Time) (opportunity.Opportunity, error) {
	if err := ctx.Err(); err != nil {
		return opportunity.Opportunity{}, err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`UPDATE opportunities
		    SET status = ?, updated_at = ?
		  WHERE name = ? AND status = ?`),
		string(opportunity.StatusPurchased),
		toMillis(now),
		name,
		string(opportunity.StatusAnalyzed),
	)
	if err != nil {
		return opportunity.Opportunity{}, fmt.Errorf("mark purchased: %w", err)
	}
	return s.afterTransition(ctx, res, name)
}

// afterTransition reloads name after a guarded UPDATE, separating a missing
// row from a row whose status did not allow the change.
func (s *Store) afterTransition(ctx context.Context, res sql.Result, name string) (opportunity.Opportunity, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return opportunity.Opportunity{}, fmt.Errorf("transition: %w", err)
	}
	opp, err := s.Get(ctx, name)
	if err != nil {
		return opportunity.Opportunity{}, err
	}
	if affected == 0 {
		return opp, storage.ErrInvalidTransition
	}
	return opp, nil
}

// CacheTable returns the cache.Store backed by family's table.
func (s *Store) CacheTable(family string) (cache.Store, error) {
	table, ok := storage.CacheTables[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownFamily, family)
	}
	return &cacheTable{db: s.db, dialect: s.dialect, table: table, now: s.now}, nil
}

var _ storage.Store = (*Store)(nil)
