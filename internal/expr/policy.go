package expr

import (
	"fmt"
	"time"

	"github.com/l0p7/domainscout/internal/opportunity"
)

// SkipPolicy decides whether an opportunity's stored enrichment is good enough
// to skip the collector on the next analysis.
type SkipPolicy struct {
	predicate predicate
}

// NewSkipPolicy compiles expression into a boolean policy.
func NewSkipPolicy(expression string) (*SkipPolicy, error) {
	env, err := newEnv()
	if err != nil {
		return nil, err
	}
	compiled, err := compilePredicate(env, expression)
	if err != nil {
		return nil, err
	}
	return &SkipPolicy{predicate: compiled}, nil
}

// Source returns the compiled expression text.
func (p *SkipPolicy) Source() string {
	if p == nil {
		return ""
	}
	return p.predicate.source
}

// Skip evaluates the policy. A nil policy never skips.
func (p *SkipPolicy) Skip(opp opportunity.Opportunity, now time.Time) (bool, error) {
	if p == nil {
		return false, nil
	}
	skip, err := p.predicate.eval(Activation(opp, now))
	if err != nil {
		return false, fmt.Errorf("expr: skip policy: %w", err)
	}
	return skip, nil
}

// Activation exposes opp to CEL using the same field names the JSON API uses.
func Activation(opp opportunity.Opportunity, now time.Time) map[string]any {
	enrichment := map[string]any{
		"checked":          opp.Enrichment.Checked,
		"had_public_site":  opp.Enrichment.HadPublicSite,
		"snapshot_count":   int64(opp.Enrichment.SnapshotCount),
		"content_category": string(opp.Enrichment.ContentCategory),
	}
	if !opp.Enrichment.FirstSeen.IsZero() {
		enrichment["first_seen"] = opp.Enrichment.FirstSeen
	}
	if !opp.Enrichment.LastSeen.IsZero() {
		enrichment["last_seen"] = opp.Enrichment.LastSeen
	}
	return map[string]any{
		"domain": map[string]any{
			"name":     opp.Name,
			"tld":      opp.TLD,
			"status":   string(opp.Status),
			"attempts": int64(opp.Attempts),
		},
		"enrichment": enrichment,
		"now":        now,
	}
}
