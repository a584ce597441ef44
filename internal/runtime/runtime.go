// Package runtime drives batches of pending opportunities through the agent
// pipeline and reports a summary for every run.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/l0p7/domainscout/internal/config"
	"github.com/l0p7/domainscout/internal/metrics"
	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/runtime/pipeline"
	"github.com/l0p7/domainscout/internal/runtime/scoring"
	"github.com/l0p7/domainscout/internal/storage"
)

var tracer = otel.Tracer("github.com/l0p7/domainscout/internal/runtime")

// ErrTooManyDomains is returned when a targeted run names more domains than
// the configured maximum batch size.
var ErrTooManyDomains = errors.New("runtime: too many domains for one batch")

// Options wires an Orchestrator.
type Options struct {
	Store   storage.Opportunities
	Agents  []pipeline.Agent
	Batch   config.BatchConfig
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// Orchestrator runs batches sequentially. Concurrent Run calls are allowed;
// each works on its own selection and relies on the store's keyed upserts.
type Orchestrator struct {
	store   storage.Opportunities
	agents  []pipeline.Agent
	batch   config.BatchConfig
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// New builds an orchestrator around the given agent chain.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("runtime: store is required")
	}
	if len(opts.Agents) == 0 {
		return nil, errors.New("runtime: at least one agent is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "orchestrator"))
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	batch := opts.Batch
	if batch.Size <= 0 {
		batch.Size = 1
	}
	if batch.MaxSize < batch.Size {
		batch.MaxSize = batch.Size
	}
	if batch.MaxAttempts <= 0 {
		batch.MaxAttempts = 1
	}
	return &Orchestrator{
		store:   opts.Store,
		agents:  instrumentAgents(logger, opts.Agents),
		batch:   batch,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// DefaultRequest returns the configured batch shape with enrichment enabled.
func (o *Orchestrator) DefaultRequest() BatchRequest {
	return BatchRequest{Size: o.batch.Size, Delay: o.batch.Delay, EnrichFirst: true}
}

// Run executes one batch. The returned Summary is complete even when the
// run stopped early; err is only set when no selection could be made or the
// backlog count failed.
func (o *Orchestrator) Run(ctx context.Context, req BatchRequest) (Summary, error) {
	summary := Summary{
		BatchID:   uuid.NewString(),
		State:     StateRunning,
		Results:   []ItemResult{},
		StartedAt: o.now().UTC(),
	}
	logger := o.logger.With(slog.String("batch_id", summary.BatchID))

	ctx, span := tracer.Start(ctx, "batch.run", trace.WithAttributes(
		attribute.String("batch.id", summary.BatchID),
		attribute.Int("batch.size", req.Size),
		attribute.Bool("batch.enrich_first", req.EnrichFirst),
	))
	defer span.End()

	items, err := o.selectItems(ctx, req, &summary)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		summary.State = StateCompleted
		summary.FinishedAt = o.now().UTC()
		return summary, err
	}

	for i, opp := range items {
		if i > 0 && req.Delay > 0 {
			if err := sleep(ctx, req.Delay); err != nil {
				summary.State = StateCancelled
				break
			}
		}
		if ctx.Err() != nil {
			summary.State = StateCancelled
			break
		}

		result, abort := o.runItem(ctx, summary.BatchID, opp, req)
		summary.add(result)
		o.metrics.ObserveBatchItem(string(result.Status))
		if abort != "" {
			summary.State = abort
			break
		}
	}
	if summary.State == StateRunning {
		summary.State = StateCompleted
	}

	// Counted fresh so overlapping runs are reflected.
	remaining, countErr := o.store.CountPending(context.WithoutCancel(ctx))
	if countErr != nil {
		logger.ErrorContext(ctx, "pending count failed", slog.String("error", countErr.Error()))
		err = fmt.Errorf("runtime: count pending: %w", countErr)
	}
	summary.Remaining = remaining
	summary.FinishedAt = o.now().UTC()
	o.metrics.ObserveBatchRun(string(summary.State), remaining)

	span.SetAttributes(
		attribute.String("batch.state", string(summary.State)),
		attribute.Int("batch.processed", summary.Processed),
		attribute.Int("batch.failed", summary.Failed),
	)

	attrs := []slog.Attr{
		slog.String("state", string(summary.State)),
		slog.Int("processed", summary.Processed),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("remaining", summary.Remaining),
		slog.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	}
	level := slog.LevelInfo
	if summary.State.Aborted() {
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, "batch finished", attrs...)
	return summary, err
}

// Analyze tracks domain when needed and runs a one-item batch for it. Batch
// abort signals surface as the scoring errors so callers can map them.
func (o *Orchestrator) Analyze(ctx context.Context, domain string, force bool) (ItemResult, error) {
	opp, err := opportunity.New(domain, o.now())
	if err != nil {
		return ItemResult{}, err
	}
	if _, err := o.store.Track(ctx, opp); err != nil {
		return ItemResult{}, fmt.Errorf("runtime: track %s: %w", opp.Name, err)
	}

	req := o.DefaultRequest()
	req.Delay = 0
	req.Domains = []string{opp.Name}
	req.Force = force
	summary, err := o.Run(ctx, req)
	if err != nil && len(summary.Results) == 0 {
		return ItemResult{}, err
	}
	if len(summary.Results) == 0 {
		if cause := context.Cause(ctx); cause != nil {
			return ItemResult{}, cause
		}
		return ItemResult{}, fmt.Errorf("runtime: %s produced no result", opp.Name)
	}
	result := summary.Results[0]
	switch summary.State {
	case StateAbortedRateLimit:
		return result, scoring.ErrRateLimited
	case StateAbortedQuota:
		return result, scoring.ErrQuotaExhausted
	}
	return result, nil
}

func (o *Orchestrator) selectItems(ctx context.Context, req BatchRequest, summary *Summary) ([]opportunity.Opportunity, error) {
	if len(req.Domains) == 0 {
		items, err := o.store.SelectPending(ctx, o.clampSize(req.Size))
		if err != nil {
			return nil, fmt.Errorf("runtime: select pending: %w", err)
		}
		return items, nil
	}
	if len(req.Domains) > o.batch.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyDomains, len(req.Domains), o.batch.MaxSize)
	}

	items := make([]opportunity.Opportunity, 0, len(req.Domains))
	seen := make(map[string]struct{}, len(req.Domains))
	for _, raw := range req.Domains {
		name, _, err := opportunity.Normalize(raw)
		if err != nil {
			summary.add(ItemResult{Domain: raw, Status: ItemError, Error: err.Error()})
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		opp, err := o.store.Get(ctx, name)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			summary.add(ItemResult{Domain: name, Status: ItemError, Error: "domain is not tracked"})
			continue
		case err != nil:
			return nil, fmt.Errorf("runtime: load %s: %w", name, err)
		}
		if opp.Status.Terminal() {
			summary.add(ItemResult{
				Domain:   opp.Name,
				Score:    scoreOf(opp),
				Category: opp.Scoring.Category,
				Status:   ItemSkipped,
				Error:    fmt.Sprintf("status is %s", opp.Status),
			})
			continue
		}
		items = append(items, opp)
	}
	return items, nil
}

func (o *Orchestrator) clampSize(size int) int {
	if size <= 0 {
		return o.batch.Size
	}
	if size > o.batch.MaxSize {
		return o.batch.MaxSize
	}
	return size
}

// runItem drives one opportunity through the agents. An analysis inside the
// staleness window is served from the store without running any agent. A
// non-empty State return stops the batch.
func (o *Orchestrator) runItem(ctx context.Context, batchID string, opp opportunity.Opportunity, req BatchRequest) (ItemResult, State) {
	ctx, span := tracer.Start(ctx, "batch.item", trace.WithAttributes(attribute.String("domain", opp.Name)))
	defer span.End()

	now := o.now()
	if !req.Force && opp.Fresh(now, o.batch.StaleAfter) {
		span.SetAttributes(attribute.Bool("cached", true))
		return ItemResult{
			Domain:   opp.Name,
			Score:    scoreOf(opp),
			Category: opp.Scoring.Category,
			Status:   ItemSkipped,
			Cached:   true,
		}, ""
	}

	state := pipeline.NewState(batchID, opp, now, req.EnrichFirst, req.Force)
	for _, agent := range o.agents {
		result := agent.Execute(ctx, state)
		if result.Name == "" {
			result.Name = agent.Name()
		}
		state.Record(result)
		if result.Stop() {
			break
		}
	}

	if state.Err != nil {
		span.RecordError(state.Err)
		span.SetStatus(codes.Error, state.Error)
		return o.itemFailure(ctx, state)
	}

	item := ItemResult{
		Domain:   state.Opportunity.Name,
		Score:    scoreOf(state.Opportunity),
		Category: state.Opportunity.Scoring.Category,
		Status:   ItemSuccess,
	}
	if state.Scoring.Cached {
		item.Status = ItemSkipped
		item.Cached = true
	}
	return item, ""
}

func (o *Orchestrator) itemFailure(ctx context.Context, state *pipeline.State) (ItemResult, State) {
	name := state.Opportunity.Name
	switch {
	case errors.Is(state.Err, scoring.ErrRateLimited):
		return ItemResult{Domain: name, Status: ItemError, Error: "Rate limited"}, StateAbortedRateLimit
	case errors.Is(state.Err, scoring.ErrQuotaExhausted):
		return ItemResult{Domain: name, Status: ItemError, Error: "Quota exhausted"}, StateAbortedQuota
	}

	if _, err := o.store.RecordFailure(ctx, name, state.Error, o.batch.MaxAttempts, state.Now); err != nil &&
		!errors.Is(err, storage.ErrInvalidTransition) {
		o.logger.ErrorContext(ctx, "failure write failed",
			slog.String("domain", name),
			slog.String("batch_id", state.BatchID),
			slog.String("error", err.Error()),
		)
	}
	return ItemResult{Domain: name, Status: ItemError, Error: state.Error}, ""
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
