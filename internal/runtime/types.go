package runtime

import (
	"time"

	"github.com/l0p7/domainscout/internal/opportunity"
)

// State is the lifecycle position of one batch run.
type State string

const (
	StateRunning          State = "running"
	StateCompleted        State = "completed"
	StateAbortedRateLimit State = "aborted_rate_limit"
	StateAbortedQuota     State = "aborted_quota"
	// StateCancelled means the caller's context ended between items.
	StateCancelled State = "cancelled"
)

// Aborted reports whether the run stopped before its selection was exhausted.
func (s State) Aborted() bool {
	return s == StateAbortedRateLimit || s == StateAbortedQuota || s == StateCancelled
}

// ItemStatus is the per-item outcome reported to the caller.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemError   ItemStatus = "error"
	ItemSkipped ItemStatus = "skipped"
)

// BatchRequest parameterises one run. Size is clamped to [1, maxSize] and a
// zero Size uses the configured default.
type BatchRequest struct {
	Size        int
	Delay       time.Duration
	EnrichFirst bool
	// Domains targets tracked domains instead of the oldest pending items.
	Domains []string
	// Force re-scores analyzed items still inside the staleness window.
	Force bool
}

// ItemResult is the outcome of one item.
type ItemResult struct {
	Domain   string               `json:"domain"`
	Score    *float64             `json:"score"`
	Category opportunity.Category `json:"category,omitempty"`
	Status   ItemStatus           `json:"status"`
	Error    string               `json:"error,omitempty"`
	Cached   bool                 `json:"cached,omitempty"`
}

// Summary is always returned, also when the run stopped early.
type Summary struct {
	BatchID    string       `json:"batch_id"`
	State      State        `json:"state"`
	Processed  int          `json:"processed"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Remaining  int          `json:"remaining"`
	Results    []ItemResult `json:"results"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

func (s *Summary) add(result ItemResult) {
	s.Results = append(s.Results, result)
	switch result.Status {
	case ItemSuccess:
		s.Processed++
	case ItemError:
		s.Failed++
	case ItemSkipped:
		s.Skipped++
	}
}

func scoreOf(opp opportunity.Opportunity) *float64 {
	if !opp.Scoring.Score.Valid {
		return nil
	}
	value := opp.Scoring.Score.Decimal.InexactFloat64()
	return &value
}
