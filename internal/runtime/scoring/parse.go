package scoring

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/l0p7/domainscout/internal/opportunity"
)

var maxScore = decimal.NewFromInt(10)

type verdict struct {
	Score          json.Number `json:"score"`
	Category       string      `json:"category"`
	Reason         string      `json:"reason"`
	EstimatedValue json.Number `json:"estimated_value_clp"`
}

// StripFences removes markdown code-fence markers around model output.
func StripFences(content string) string {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		text = strings.TrimSpace(text)
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}

// ParseContent reads the scoring contract out of model output.
func ParseContent(content string) (opportunity.Scoring, error) {
	text := StripFences(content)
	if start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); start > 0 && end > start {
		text = text[start : end+1]
	}

	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	var v verdict
	if err := decoder.Decode(&v); err != nil {
		return opportunity.Scoring{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if v.Score == "" {
		return opportunity.Scoring{}, fmt.Errorf("%w: missing score", ErrMalformedResponse)
	}
	score, err := decimal.NewFromString(v.Score.String())
	if err != nil {
		return opportunity.Scoring{}, fmt.Errorf("%w: score %q", ErrMalformedResponse, v.Score)
	}
	if score.IsNegative() || score.GreaterThan(maxScore) {
		return opportunity.Scoring{}, fmt.Errorf("%w: score %s outside 0-10", ErrMalformedResponse, score)
	}

	category, err := opportunity.ParseCategory(v.Category)
	if err != nil {
		return opportunity.Scoring{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var value int64
	if v.EstimatedValue != "" {
		parsed, err := decimal.NewFromString(v.EstimatedValue.String())
		if err != nil || !parsed.IsInteger() || parsed.IsNegative() {
			return opportunity.Scoring{}, fmt.Errorf("%w: estimated value %q", ErrMalformedResponse, v.EstimatedValue)
		}
		value = parsed.IntPart()
	}

	return opportunity.Scoring{
		Score:          decimal.NewNullDecimal(score.Round(1)),
		Category:       category,
		Rationale:      strings.TrimSpace(v.Reason),
		EstimatedValue: value,
	}, nil
}
