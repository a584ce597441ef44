package scoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/l0p7/domainscout/internal/logging"
	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/runtime/pipeline"
)

// Scorer values one opportunity.
type Scorer interface {
	Score(ctx context.Context, opp opportunity.Opportunity) (opportunity.Scoring, error)
}

// Agent scores a batch item, reusing a stored analysis that is still inside
// the staleness window unless the item is forced.
type Agent struct {
	scorer     Scorer
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewAgent builds the scoring agent.
func NewAgent(scorer Scorer, staleAfter time.Duration, logger *slog.Logger) *Agent {
	return &Agent{scorer: scorer, staleAfter: staleAfter, logger: logging.Agent(logger, "scoring")}
}

func (a *Agent) Name() string { return "scoring" }

func (a *Agent) Execute(ctx context.Context, state *pipeline.State) pipeline.Result {
	opp := state.Opportunity
	if !state.Force && opp.Fresh(state.Now, a.staleAfter) {
		state.Scoring.Cached = true
		return pipeline.Result{Name: a.Name(), Status: pipeline.StatusCached, Details: "analysis within staleness window"}
	}

	scoring, err := a.scorer.Score(ctx, opp)
	if err != nil {
		state.Fail(err)
		return pipeline.Result{Name: a.Name(), Status: pipeline.StatusError, Details: err.Error()}
	}

	state.Opportunity.Scoring = scoring
	state.Opportunity.Status = opportunity.StatusAnalyzed
	state.Opportunity.AnalyzedAt = state.Now
	state.Opportunity.UpdatedAt = state.Now
	state.Opportunity.LastError = ""
	state.Scoring.Scored = true
	return pipeline.Result{
		Name:   a.Name(),
		Status: pipeline.StatusOK,
		Meta: map[string]any{
			"score":    scoring.Score.Decimal.String(),
			"category": string(scoring.Category),
		},
	}
}
