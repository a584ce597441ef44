package server

import (
	"time"

	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/sources/whois"
)

type opportunityView struct {
	Name           string                 `json:"name"`
	TLD            string                 `json:"tld"`
	Status         opportunity.Status     `json:"status"`
	Enrichment     opportunity.Enrichment `json:"enrichment"`
	Score          *float64               `json:"score"`
	Category       opportunity.Category   `json:"category,omitempty"`
	Rationale      string                 `json:"rationale,omitempty"`
	EstimatedValue int64                  `json:"estimated_value_clp"`
	Attempts       int                    `json:"attempts"`
	LastError      string                 `json:"last_error,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	AnalyzedAt     time.Time              `json:"analyzed_at,omitzero"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

func newOpportunityView(opp opportunity.Opportunity) opportunityView {
	view := opportunityView{
		Name:           opp.Name,
		TLD:            opp.TLD,
		Status:         opp.Status,
		Enrichment:     opp.Enrichment,
		Category:       opp.Scoring.Category,
		Rationale:      opp.Scoring.Rationale,
		EstimatedValue: opp.Scoring.EstimatedValue,
		Attempts:       opp.Attempts,
		LastError:      opp.LastError,
		CreatedAt:      opp.CreatedAt,
		AnalyzedAt:     opp.AnalyzedAt,
		UpdatedAt:      opp.UpdatedAt,
	}
	if opp.Scoring.Score.Valid {
		score := opp.Scoring.Score.Decimal.InexactFloat64()
		view.Score = &score
	}
	return view
}

// whoisView renders absent fields with the unavailable sentinel.
type whoisView struct {
	Domain      string   `json:"domain"`
	Registered  bool     `json:"registered"`
	Registrant  string   `json:"registrant"`
	Registrar   string   `json:"registrar"`
	Created     string   `json:"created"`
	Expires     string   `json:"expires"`
	Status      string   `json:"status"`
	NameServers []string `json:"name_servers"`
}

func newWhoisView(record whois.Record) whoisView {
	servers := record.NameServers
	if servers == nil {
		servers = []string{}
	}
	return whoisView{
		Domain:      record.Domain,
		Registered:  record.Registered,
		Registrant:  record.Registrant.Display(),
		Registrar:   record.Registrar.Display(),
		Created:     record.Created.Display(),
		Expires:     record.Expires.Display(),
		Status:      record.Status.Display(),
		NameServers: servers,
	}
}
