// Package scoring asks a chat-completion endpoint to value a domain and
// parses the constrained JSON verdict out of its reply.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/l0p7/domainscout/internal/logging"
	"github.com/l0p7/domainscout/internal/metrics"
	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/sources"
	"github.com/l0p7/domainscout/internal/templates"
)

// Source is the label used in errors, logs, and metrics.
const Source = "scoring"

const maxErrorBody = 512

var tracer = otel.Tracer("github.com/l0p7/domainscout/internal/runtime/scoring")

// Config wires the scoring client.
type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	Prompts    *templates.Prompts
	HTTPClient sources.HTTPDoer
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

// Client calls the completion endpoint once per domain. It never retries;
// a 429 must surface to the orchestrator instead.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	timeout  time.Duration
	prompts  *templates.Prompts
	http     sources.HTTPDoer
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// New builds a client. Prompts default to the embedded templates.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("scoring: endpoint required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("scoring: model required")
	}
	prompts := cfg.Prompts
	if prompts == nil {
		p, err := templates.NewPrompts("")
		if err != nil {
			return nil, err
		}
		prompts = p
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		timeout:  timeout,
		prompts:  prompts,
		http:     client,
		logger:   logging.Agent(cfg.Logger, "scoring"),
		metrics:  cfg.Metrics,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Score values opp from its name and stored enrichment.
func (c *Client) Score(ctx context.Context, opp opportunity.Opportunity) (scoring opportunity.Scoring, err error) {
	ctx, span := tracer.Start(ctx, "scoring.score")
	span.SetAttributes(attribute.String("domain", opp.Name), attribute.String("model", c.model))
	start := time.Now()
	defer func() {
		c.metrics.ObserveSource(Source, outcomeOf(err), time.Since(start))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	system, user, err := c.prompts.Render(templates.NewPromptData(opp))
	if err != nil {
		return opportunity.Scoring{}, err
	}
	payload, err := json.Marshal(completionRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return opportunity.Scoring{}, fmt.Errorf("scoring: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return opportunity.Scoring{}, fmt.Errorf("scoring: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := sources.Do(c.http, Source, req, 0)
	if err != nil {
		return opportunity.Scoring{}, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	switch {
	case resp.Status == http.StatusTooManyRequests:
		return opportunity.Scoring{}, ErrRateLimited
	case resp.Status == http.StatusPaymentRequired:
		return opportunity.Scoring{}, ErrQuotaExhausted
	case !sources.OK(resp.Status):
		return opportunity.Scoring{}, &StatusError{Status: resp.Status, Body: truncate(resp.Body)}
	}

	var completion completionResponse
	if err := json.Unmarshal(resp.Body, &completion); err != nil {
		return opportunity.Scoring{}, fmt.Errorf("%w: completion envelope: %v", ErrMalformedResponse, err)
	}
	if len(completion.Choices) == 0 {
		return opportunity.Scoring{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	scoring, err = ParseContent(completion.Choices[0].Message.Content)
	if err != nil {
		c.logger.DebugContext(ctx, "unparseable model output",
			slog.String("domain", opp.Name),
			slog.String("content", completion.Choices[0].Message.Content),
		)
		return opportunity.Scoring{}, err
	}
	return scoring, nil
}

func truncate(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

func outcomeOf(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.As(err, &statusErr):
		return "status"
	default:
		if kind := sources.KindOf(err); kind != "" {
			return string(kind)
		}
		return "error"
	}
}
