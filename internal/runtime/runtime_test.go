package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/domainscout/internal/config"
	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/runtime/enrichment"
	"github.com/l0p7/domainscout/internal/runtime/persistence"
	"github.com/l0p7/domainscout/internal/runtime/pipeline"
	"github.com/l0p7/domainscout/internal/runtime/scoring"
	"github.com/l0p7/domainscout/internal/storage/sqlite"
	"github.com/l0p7/domainscout/internal/storage/sqlstore"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fakeScorer struct {
	mu     sync.Mutex
	calls  []string
	errFor map[string]error
}

func (f *fakeScorer) Score(_ context.Context, opp opportunity.Opportunity) (opportunity.Scoring, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opp.Name)
	err := f.errFor[opp.Name]
	f.mu.Unlock()
	if err != nil {
		return opportunity.Scoring{}, err
	}
	return opportunity.Scoring{
		Score:          decimal.NewNullDecimal(decimal.RequireFromString("7.5")),
		Category:       opportunity.CategoryBrandable,
		Rationale:      "short and pronounceable",
		EstimatedValue: 450000,
	}, nil
}

func (f *fakeScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEnricher struct {
	calls atomic.Int32
}

func (f *fakeEnricher) Collect(context.Context, string) (opportunity.Enrichment, enrichment.Outcome) {
	f.calls.Add(1)
	return opportunity.Enrichment{
		SnapshotCount: 3,
		FirstSeen:     time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC),
		LastSeen:      time.Date(2020, 6, 7, 0, 0, 0, 0, time.UTC),
		HadPublicSite: true,
		Checked:       true,
	}, enrichment.Outcome{}
}

type harness struct {
	store    *sqlstore.Store
	scorer   *fakeScorer
	enricher *fakeEnricher
	orch     *Orchestrator
}

type cancelAgent struct{ cancel context.CancelFunc }

func (a cancelAgent) Name() string { return "cancel" }

func (a cancelAgent) Execute(context.Context, *pipeline.State) pipeline.Result {
	a.cancel()
	return pipeline.Result{Name: a.Name(), Status: pipeline.StatusOK}
}

func newHarness(t *testing.T, batch config.BatchConfig, extra ...pipeline.Agent) *harness {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "runtime.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	scorer := &fakeScorer{errFor: map[string]error{}}
	enricher := &fakeEnricher{}
	agents := []pipeline.Agent{
		enrichment.NewAgent(enricher, nil, nil),
		persistence.NewEnrichmentWriter(store, nil),
		scoring.NewAgent(scorer, 24*time.Hour, nil),
		persistence.NewAnalysisWriter(store, nil),
	}
	orch, err := New(Options{
		Store:  store,
		Agents: append(agents, extra...),
		Batch:  batch,
		Now:    func() time.Time { return baseTime },
	})
	require.NoError(t, err)
	return &harness{store: store, scorer: scorer, enricher: enricher, orch: orch}
}

func defaultBatch() config.BatchConfig {
	return config.BatchConfig{Size: 10, MaxSize: 50, MaxAttempts: 3, StaleAfter: 24 * time.Hour}
}

func (h *harness) track(t *testing.T, names ...string) {
	t.Helper()
	for i, name := range names {
		opp, err := opportunity.New(name, baseTime.Add(time.Duration(i-len(names))*time.Minute))
		require.NoError(t, err)
		added, err := h.store.Track(context.Background(), opp)
		require.NoError(t, err)
		require.True(t, added)
	}
}

func (h *harness) status(t *testing.T, name string) opportunity.Opportunity {
	t.Helper()
	opp, err := h.store.Get(context.Background(), name)
	require.NoError(t, err)
	return opp
}

func TestRunAbortsOnRateLimit(t *testing.T) {
	h := newHarness(t, defaultBatch())
	names := []string{"alpha.cl", "bravo.cl", "charlie.cl", "delta.cl", "echo.cl"}
	h.track(t, names...)
	h.scorer.errFor["charlie.cl"] = fmt.Errorf("call: %w", scoring.ErrRateLimited)

	summary, err := h.orch.Run(context.Background(), BatchRequest{Size: 5, EnrichFirst: true})
	require.NoError(t, err)

	require.Equal(t, StateAbortedRateLimit, summary.State)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 3, summary.Remaining)
	require.Len(t, summary.Results, 3)
	require.Equal(t, ItemSuccess, summary.Results[0].Status)
	require.Equal(t, ItemSuccess, summary.Results[1].Status)
	require.Equal(t, ItemError, summary.Results[2].Status)
	require.Equal(t, "Rate limited", summary.Results[2].Error)
	require.Equal(t, []string{"alpha.cl", "bravo.cl", "charlie.cl"}, h.scorer.calls)

	require.Equal(t, opportunity.StatusAnalyzed, h.status(t, "alpha.cl").Status)
	require.Equal(t, opportunity.StatusAnalyzed, h.status(t, "bravo.cl").Status)

	limited := h.status(t, "charlie.cl")
	require.Equal(t, opportunity.StatusPending, limited.Status)
	require.Zero(t, limited.Attempts)

	for _, name := range []string{"delta.cl", "echo.cl"} {
		untouched := h.status(t, name)
		require.Equal(t, opportunity.StatusPending, untouched.Status)
		require.False(t, untouched.Enrichment.Checked)
		require.Zero(t, untouched.Attempts)
	}
}

func TestRunAbortsOnQuota(t *testing.T) {
	h := newHarness(t, defaultBatch())
	h.track(t, "alpha.cl", "bravo.cl")
	h.scorer.errFor["alpha.cl"] = scoring.ErrQuotaExhausted

	summary, err := h.orch.Run(context.Background(), BatchRequest{Size: 5})
	require.NoError(t, err)
	require.Equal(t, StateAbortedQuota, summary.State)
	require.Equal(t, "Quota exhausted", summary.Results[0].Error)
	require.Equal(t, 2, summary.Remaining)
	require.Equal(t, 1, h.scorer.callCount())
}

func TestRunContinuesPastItemFailure(t *testing.T) {
	batch := defaultBatch()
	batch.MaxAttempts = 2
	h := newHarness(t, batch)
	h.track(t, "alpha.cl", "bravo.cl")
	h.scorer.errFor["alpha.cl"] = scoring.ErrMalformedResponse

	summary, err := h.orch.Run(context.Background(), BatchRequest{Size: 5, EnrichFirst: true})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, summary.State)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Remaining)

	failed := h.status(t, "alpha.cl")
	require.Equal(t, opportunity.StatusPending, failed.Status)
	require.Equal(t, 1, failed.Attempts)
	require.True(t, failed.Enrichment.Checked)
	require.Contains(t, failed.LastError, "malformed")

	summary, err = h.orch.Run(context.Background(), BatchRequest{Size: 5})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Zero(t, summary.Remaining)
	require.Equal(t, opportunity.StatusFailed, h.status(t, "alpha.cl").Status)
}

func TestRunServesFreshAnalysisFromStore(t *testing.T) {
	h := newHarness(t, defaultBatch())
	h.track(t, "alpha.cl")

	first, err := h.orch.Run(context.Background(), BatchRequest{Domains: []string{"alpha.cl"}})
	require.NoError(t, err)
	require.Equal(t, ItemSuccess, first.Results[0].Status)
	require.NotNil(t, first.Results[0].Score)

	second, err := h.orch.Run(context.Background(), BatchRequest{Domains: []string{"ALPHA.cl"}})
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	require.Equal(t, ItemSkipped, second.Results[0].Status)
	require.True(t, second.Results[0].Cached)
	require.InDelta(t, 7.5, *second.Results[0].Score, 0.001)
	require.Equal(t, 1, h.scorer.callCount())

	forced, err := h.orch.Run(context.Background(), BatchRequest{Domains: []string{"alpha.cl"}, Force: true})
	require.NoError(t, err)
	require.Equal(t, ItemSuccess, forced.Results[0].Status)
	require.Equal(t, 2, h.scorer.callCount())
}

func TestAnalyzeFreshItemSkipsEnrichment(t *testing.T) {
	h := newHarness(t, defaultBatch())
	ctx := context.Background()

	first, err := h.orch.Analyze(ctx, "alpha.cl", false)
	require.NoError(t, err)
	require.Equal(t, ItemSuccess, first.Status)
	stored := h.status(t, "alpha.cl")

	second, err := h.orch.Analyze(ctx, "alpha.cl", false)
	require.NoError(t, err)
	require.Equal(t, ItemSkipped, second.Status)
	require.True(t, second.Cached)
	require.InDelta(t, 7.5, *second.Score, 0.001)
	require.Equal(t, 1, h.scorer.callCount())
	require.EqualValues(t, 1, h.enricher.calls.Load(), "fresh analysis must not touch the snapshot index")
	require.Equal(t, stored.UpdatedAt, h.status(t, "alpha.cl").UpdatedAt)

	forced, err := h.orch.Analyze(ctx, "alpha.cl", true)
	require.NoError(t, err)
	require.Equal(t, ItemSuccess, forced.Status)
	require.EqualValues(t, 2, h.enricher.calls.Load())
}

func TestRunTargetedDomains(t *testing.T) {
	h := newHarness(t, defaultBatch())
	h.track(t, "alpha.cl")

	summary, err := h.orch.Run(context.Background(), BatchRequest{Domains: []string{"alpha.cl", "missing.cl", "not a domain"}})
	require.NoError(t, err)
	require.Len(t, summary.Results, 3)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 2, summary.Failed)

	_, err = h.store.MarkPurchased(context.Background(), "alpha.cl", baseTime)
	require.NoError(t, err)
	summary, err = h.orch.Run(context.Background(), BatchRequest{Domains: []string{"alpha.cl"}})
	require.NoError(t, err)
	require.Equal(t, ItemSkipped, summary.Results[0].Status)
	require.Equal(t, 1, h.scorer.callCount())

	tooMany := make([]string, 51)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("d%d.cl", i)
	}
	_, err = h.orch.Run(context.Background(), BatchRequest{Domains: tooMany})
	require.ErrorIs(t, err, ErrTooManyDomains)
}

func TestRunClampsSize(t *testing.T) {
	batch := defaultBatch()
	batch.Size = 1
	batch.MaxSize = 2
	h := newHarness(t, batch)
	h.track(t, "alpha.cl", "bravo.cl", "charlie.cl")

	summary, err := h.orch.Run(context.Background(), BatchRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)

	summary, err = h.orch.Run(context.Background(), BatchRequest{Size: 100})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Zero(t, summary.Remaining)
}

func TestRunDelayHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, defaultBatch(), cancelAgent{cancel: cancel})
	h.track(t, "alpha.cl", "bravo.cl", "charlie.cl")

	start := time.Now()
	summary, err := h.orch.Run(ctx, BatchRequest{Size: 3, Delay: time.Hour})
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Minute)
	require.Equal(t, StateCancelled, summary.State)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 2, summary.Remaining)
}

func TestAnalyzeTracksAndMapsAborts(t *testing.T) {
	h := newHarness(t, defaultBatch())

	result, err := h.orch.Analyze(context.Background(), "https://www.Nuevo.cl/path", false)
	require.NoError(t, err)
	require.Equal(t, "nuevo.cl", result.Domain)
	require.Equal(t, ItemSuccess, result.Status)
	require.Equal(t, opportunity.StatusAnalyzed, h.status(t, "nuevo.cl").Status)

	h.scorer.errFor["limited.cl"] = scoring.ErrRateLimited
	result, err = h.orch.Analyze(context.Background(), "limited.cl", false)
	require.ErrorIs(t, err, scoring.ErrRateLimited)
	require.Equal(t, ItemError, result.Status)

	_, err = h.orch.Analyze(context.Background(), "nodot", false)
	require.ErrorIs(t, err, opportunity.ErrInvalidDomain)
}

func TestNewRequiresStoreAndAgents(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
