package pipeline

import (
	"context"
	"time"

	"github.com/l0p7/domainscout/internal/opportunity"
)

// Agent is one step applied to a batch item. Agents read and mutate the
// shared State and report a Result snapshot.
type Agent interface {
	Name() string
	Execute(context.Context, *State) Result
}

// Result statuses shared by every agent.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusCached  = "cached"
	StatusError   = "error"
)

// Result captures the outcome an agent emitted for one item.
type Result struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Details string         `json:"details,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Stop reports whether the item must not advance to the next agent.
func (r Result) Stop() bool { return r.Status == StatusError }

// EnrichmentState records what the collector did for the item.
type EnrichmentState struct {
	Requested bool   `json:"requested"`
	Collected bool   `json:"collected"`
	Degraded  bool   `json:"degraded"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	Saved     bool   `json:"saved"`
}

// ScoringState records the scoring call for the item.
type ScoringState struct {
	Scored bool `json:"scored"`
	Cached bool `json:"cached"`
}

// PersistenceState records the analysis write.
type PersistenceState struct {
	Stored bool `json:"stored"`
}

// State is threaded through every agent for one batch item.
type State struct {
	BatchID     string                  `json:"batchId"`
	Now         time.Time               `json:"now"`
	Force       bool                    `json:"force"`
	EnrichFirst bool                    `json:"enrichFirst"`
	Opportunity opportunity.Opportunity `json:"opportunity"`

	Enrichment  EnrichmentState  `json:"enrichment"`
	Scoring     ScoringState     `json:"scoring"`
	Persistence PersistenceState `json:"persistence"`
	History     []Result         `json:"history,omitempty"`

	// Err keeps the typed error of the agent that stopped the item so the
	// orchestrator can tell batch-level signals from item failures.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// NewState starts the per-item state for opp.
func NewState(batchID string, opp opportunity.Opportunity, now time.Time, enrichFirst, force bool) *State {
	return &State{
		BatchID:     batchID,
		Now:         now.UTC(),
		Force:       force,
		EnrichFirst: enrichFirst,
		Opportunity: opp,
		Enrichment:  EnrichmentState{Requested: enrichFirst},
	}
}

// Record appends an agent result to the item history.
func (s *State) Record(result Result) {
	s.History = append(s.History, result)
}

// Fail stores the error that stopped the item.
func (s *State) Fail(err error) {
	s.Err = err
	if err != nil {
		s.Error = err.Error()
	}
}
