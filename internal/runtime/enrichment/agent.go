package enrichment

import (
	"context"
	"log/slog"

	"github.com/l0p7/domainscout/internal/expr"
	"github.com/l0p7/domainscout/internal/logging"
	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/runtime/pipeline"
)

// Enricher produces enrichment for one domain.
type Enricher interface {
	Collect(ctx context.Context, domain string) (opportunity.Enrichment, Outcome)
}

// Agent runs the collector for a batch item unless enrichment was not
// requested or the skip policy matches the stored enrichment.
type Agent struct {
	enricher Enricher
	skip     *expr.SkipPolicy
	logger   *slog.Logger
}

// NewAgent builds the enrichment agent. A nil skip policy never skips.
func NewAgent(enricher Enricher, skip *expr.SkipPolicy, logger *slog.Logger) *Agent {
	return &Agent{enricher: enricher, skip: skip, logger: logging.Agent(logger, "enrichment")}
}

func (a *Agent) Name() string { return "enrichment" }

func (a *Agent) Execute(ctx context.Context, state *pipeline.State) pipeline.Result {
	if !state.EnrichFirst {
		state.Enrichment.Skipped = true
		return pipeline.Result{Name: a.Name(), Status: pipeline.StatusSkipped, Details: "enrichment not requested"}
	}

	skip, err := a.skip.Skip(state.Opportunity, state.Now)
	if err != nil {
		a.logger.WarnContext(ctx, "skip policy evaluation failed, collecting anyway",
			slog.String("domain", state.Opportunity.Name),
			slog.String("error", err.Error()),
		)
	}
	if skip {
		state.Enrichment.Skipped = true
		return pipeline.Result{Name: a.Name(), Status: pipeline.StatusSkipped, Details: "skip policy matched stored enrichment"}
	}

	enrichment, outcome := a.enricher.Collect(ctx, state.Opportunity.Name)
	state.Opportunity.Enrichment = enrichment
	state.Enrichment.Collected = true
	state.Enrichment.Degraded = outcome.Degraded
	state.Enrichment.Reason = outcome.Reason

	result := pipeline.Result{
		Name:   a.Name(),
		Status: pipeline.StatusOK,
		Meta: map[string]any{
			"snapshot_count":  enrichment.SnapshotCount,
			"had_public_site": enrichment.HadPublicSite,
			"cached":          outcome.Cached,
		},
	}
	if outcome.Degraded {
		result.Details = "snapshot index unavailable: " + outcome.Reason
	}
	return result
}
