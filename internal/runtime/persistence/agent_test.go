package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/runtime/pipeline"
	"github.com/l0p7/domainscout/internal/storage"
	"github.com/l0p7/domainscout/internal/storage/sqlite"
)

func openStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "scout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func tracked(t *testing.T, store storage.Store, name string, now time.Time) opportunity.Opportunity {
	t.Helper()
	opp, err := opportunity.New(name, now)
	require.NoError(t, err)
	_, err = store.Track(context.Background(), opp)
	require.NoError(t, err)
	return opp
}

func TestEnrichmentWriterPersistsCheckedFlag(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	opp := tracked(t, store, "kiwi.cl", now)

	writer := NewEnrichmentWriter(store, nil)
	state := pipeline.NewState("b", opp, now, true, false)

	result := writer.Execute(ctx, state)
	require.Equal(t, pipeline.StatusSkipped, result.Status, "nothing collected yet")

	state.Opportunity.Enrichment = opportunity.Enrichment{Checked: true}
	state.Enrichment.Collected = true
	result = writer.Execute(ctx, state)
	require.Equal(t, pipeline.StatusOK, result.Status)
	require.True(t, state.Enrichment.Saved)

	stored, err := store.Get(ctx, "kiwi.cl")
	require.NoError(t, err)
	require.True(t, stored.Enrichment.Checked)
	require.Equal(t, opportunity.StatusPending, stored.Status)
}

func TestEnrichmentWriterFailsItemOnMissingRow(t *testing.T) {
	store := openStore(t)
	writer := NewEnrichmentWriter(store, nil)
	state := pipeline.NewState("b", opportunity.Opportunity{Name: "ghost.cl"}, time.Now(), true, false)
	state.Enrichment.Collected = true

	result := writer.Execute(context.Background(), state)
	require.True(t, result.Stop())
	require.True(t, errors.Is(state.Err, storage.ErrNotFound))
}

func TestAnalysisWriter(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	opp := tracked(t, store, "kiwi.cl", now)
	writer := NewAnalysisWriter(store, nil)

	cached := pipeline.NewState("b", opp, now, true, false)
	cached.Scoring.Cached = true
	require.Equal(t, pipeline.StatusCached, writer.Execute(ctx, cached).Status)

	state := pipeline.NewState("b", opp, now, true, false)
	require.Equal(t, pipeline.StatusSkipped, writer.Execute(ctx, state).Status)

	state.Opportunity.Status = opportunity.StatusAnalyzed
	state.Opportunity.AnalyzedAt = now
	state.Opportunity.Scoring = opportunity.Scoring{
		Score:    decimal.NewNullDecimal(decimal.RequireFromString("5.5")),
		Category: opportunity.CategoryGeneric,
	}
	state.Scoring.Scored = true
	require.Equal(t, pipeline.StatusOK, writer.Execute(ctx, state).Status)
	require.True(t, state.Persistence.Stored)

	stored, err := store.Get(ctx, "kiwi.cl")
	require.NoError(t, err)
	require.Equal(t, opportunity.StatusAnalyzed, stored.Status)
	require.True(t, stored.Scoring.Score.Decimal.Equal(decimal.RequireFromString("5.5")))
}
