// Package opportunity models a tracked domain name moving through the
// enrichment and scoring lifecycle.
package opportunity

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// Status is the lifecycle position of an opportunity.
type Status string

const (
	StatusPending   Status = "pending_analysis"
	StatusAnalyzed  Status = "analyzed"
	StatusPurchased Status = "purchased"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzed, StatusPurchased, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusPurchased || s == StatusFailed
}

// CanTransition enforces the monotonic lifecycle
// pending_analysis -> analyzed -> purchased, with failed reachable only from
// pending_analysis. Self transitions on non-terminal states record
// re-analysis or an additional failed attempt.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusPending || to == StatusAnalyzed || to == StatusFailed
	case StatusAnalyzed:
		return to == StatusAnalyzed || to == StatusPurchased
	default:
		return false
	}
}

// ContentCategory is the inferred kind of site a historical snapshot showed.
type ContentCategory string

const (
	ContentCommerce  ContentCategory = "commerce"
	ContentBlog      ContentCategory = "blog"
	ContentCorporate ContentCategory = "corporate"
	ContentLanding   ContentCategory = "landing"
	ContentGeneral   ContentCategory = "general"
)

// Category is the valuation bucket returned by the scoring model.
type Category string

const (
	CategoryPremium   Category = "premium"
	CategoryBrandable Category = "brandable"
	CategoryKeyword   Category = "keyword"
	CategoryGeneric   Category = "generic"
	CategoryLowValue  Category = "low_value"
)

// Categories lists every accepted scoring category in rubric order.
var Categories = []Category{CategoryPremium, CategoryBrandable, CategoryKeyword, CategoryGeneric, CategoryLowValue}

// ParseCategory maps free text onto the fixed category enum.
func ParseCategory(raw string) (Category, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	for _, c := range Categories {
		if string(c) == normalized {
			return c, nil
		}
	}
	return "", fmt.Errorf("opportunity: unknown category %q", raw)
}

// Enrichment holds the historical-presence signals gathered for a domain.
// Zero times mean the bound is unknown.
type Enrichment struct {
	SnapshotCount   int             `json:"snapshot_count"`
	FirstSeen       time.Time       `json:"first_seen,omitzero"`
	LastSeen        time.Time       `json:"last_seen,omitzero"`
	ContentCategory ContentCategory `json:"content_category,omitempty"`
	HadPublicSite   bool            `json:"had_public_site"`
	Checked         bool            `json:"enrichment_checked"`
}

// Scoring is the AI valuation of a domain. Score is absent until analyzed.
type Scoring struct {
	Score          decimal.NullDecimal `json:"score"`
	Category       Category            `json:"category,omitempty"`
	Rationale      string              `json:"rationale,omitempty"`
	EstimatedValue int64               `json:"estimated_value"`
}

// Opportunity is one tracked domain name.
type Opportunity struct {
	Name       string     `json:"name"`
	TLD        string     `json:"tld"`
	Status     Status     `json:"status"`
	Enrichment Enrichment `json:"enrichment"`
	Scoring    Scoring    `json:"scoring"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	AnalyzedAt time.Time  `json:"analyzed_at,omitzero"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Fresh reports whether an analyzed opportunity is still inside the
// staleness window and can be served without re-scoring.
func (o Opportunity) Fresh(now time.Time, staleAfter time.Duration) bool {
	if o.Status != StatusAnalyzed && o.Status != StatusPurchased {
		return false
	}
	if o.AnalyzedAt.IsZero() || !o.Scoring.Score.Valid {
		return false
	}
	if staleAfter <= 0 {
		return true
	}
	return now.Sub(o.AnalyzedAt) < staleAfter
}

// New builds a pending opportunity for a normalized domain name.
func New(name string, now time.Time) (Opportunity, error) {
	normalized, tld, err := Normalize(name)
	if err != nil {
		return Opportunity{}, err
	}
	now = now.UTC()
	return Opportunity{
		Name:      normalized,
		TLD:       tld,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ErrInvalidDomain is returned when input cannot be reduced to a
// registrable domain name.
var ErrInvalidDomain = errors.New("opportunity: invalid domain")

// Normalize lowercases, IDNA-encodes, and validates a domain, returning the
// registrable name and its public suffix.
func Normalize(raw string) (string, string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	if strings.Contains(candidate, "://") {
		parsed, err := url.Parse(candidate)
		if err != nil {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
		}
		candidate = parsed.Hostname()
	}
	if i := strings.IndexAny(candidate, "/?#"); i >= 0 {
		candidate = candidate[:i]
	}
	candidate = strings.TrimSuffix(strings.ToLower(candidate), ".")
	candidate = strings.TrimPrefix(candidate, "www.")
	ascii, err := idna.Lookup.ToASCII(candidate)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrInvalidDomain, raw, err)
	}
	if !strings.Contains(ascii, ".") {
		return "", "", fmt.Errorf("%w: %q has no suffix", ErrInvalidDomain, raw)
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(ascii)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrInvalidDomain, raw, err)
	}
	suffix, _ := publicsuffix.PublicSuffix(registrable)
	return registrable, suffix, nil
}
