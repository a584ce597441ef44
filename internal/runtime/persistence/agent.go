// Package persistence writes batch item progress to the opportunity store.
package persistence

import (
	"context"
	"log/slog"

	"github.com/l0p7/domainscout/internal/logging"
	"github.com/l0p7/domainscout/internal/runtime/pipeline"
	"github.com/l0p7/domainscout/internal/storage"
)

// EnrichmentWriter stores collector output right after collection so the
// checked flag survives a later scoring failure.
type EnrichmentWriter struct {
	store  storage.Opportunities
	logger *slog.Logger
}

// NewEnrichmentWriter builds the enrichment write step.
func NewEnrichmentWriter(store storage.Opportunities, logger *slog.Logger) *EnrichmentWriter {
	return &EnrichmentWriter{store: store, logger: logging.Agent(logger, "persist_enrichment")}
}

func (w *EnrichmentWriter) Name() string { return "persist_enrichment" }

func (w *EnrichmentWriter) Execute(ctx context.Context, state *pipeline.State) pipeline.Result {
	if !state.Enrichment.Collected {
		return pipeline.Result{Name: w.Name(), Status: pipeline.StatusSkipped}
	}
	opp := state.Opportunity
	if err := w.store.SaveEnrichment(ctx, opp.Name, opp.Enrichment, state.Now); err != nil {
		w.logger.ErrorContext(ctx, "enrichment write failed",
			slog.String("domain", opp.Name),
			slog.String("batch_id", state.BatchID),
			slog.String("error", err.Error()),
		)
		state.Fail(err)
		return pipeline.Result{Name: w.Name(), Status: pipeline.StatusError, Details: "failed to persist enrichment"}
	}
	state.Enrichment.Saved = true
	return pipeline.Result{Name: w.Name(), Status: pipeline.StatusOK}
}

// AnalysisWriter upserts a freshly scored item as analyzed.
type AnalysisWriter struct {
	store  storage.Opportunities
	logger *slog.Logger
}

// NewAnalysisWriter builds the analysis write step.
func NewAnalysisWriter(store storage.Opportunities, logger *slog.Logger) *AnalysisWriter {
	return &AnalysisWriter{store: store, logger: logging.Agent(logger, "persist_analysis")}
}

func (w *AnalysisWriter) Name() string { return "persist_analysis" }

func (w *AnalysisWriter) Execute(ctx context.Context, state *pipeline.State) pipeline.Result {
	if state.Scoring.Cached {
		return pipeline.Result{Name: w.Name(), Status: pipeline.StatusCached, Details: "stored analysis reused"}
	}
	if !state.Scoring.Scored {
		return pipeline.Result{Name: w.Name(), Status: pipeline.StatusSkipped}
	}
	if err := w.store.SaveAnalysis(ctx, state.Opportunity); err != nil {
		w.logger.ErrorContext(ctx, "analysis write failed",
			slog.String("domain", state.Opportunity.Name),
			slog.String("batch_id", state.BatchID),
			slog.String("error", err.Error()),
		)
		state.Fail(err)
		return pipeline.Result{Name: w.Name(), Status: pipeline.StatusError, Details: "failed to persist analysis"}
	}
	state.Persistence.Stored = true
	return pipeline.Result{Name: w.Name(), Status: pipeline.StatusOK}
}
