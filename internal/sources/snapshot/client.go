// Package snapshot reads the historical capture index of a web archive and
// samples archived page content.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/l0p7/domainscout/internal/metrics"
	"github.com/l0p7/domainscout/internal/sources"
)

// Source is the label used in errors, logs, and metrics.
const Source = "snapshot_index"

// TimestampLayout is the archive's 14-digit capture timestamp.
const TimestampLayout = "20060102150405"

const maxContent = 512 << 10

// Capture is one archived fetch of a page.
type Capture struct {
	Timestamp  time.Time `json:"timestamp"`
	Original   string    `json:"original"`
	StatusCode int       `json:"status_code"`
}

// Summary condenses an index into the signals the collector stores.
type Summary struct {
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// Summarize counts captures and finds the earliest and latest one.
func Summarize(captures []Capture) Summary {
	var s Summary
	for _, c := range captures {
		if c.Timestamp.IsZero() {
			continue
		}
		s.Count++
		if s.FirstSeen.IsZero() || c.Timestamp.Before(s.FirstSeen) {
			s.FirstSeen = c.Timestamp
		}
		if c.Timestamp.After(s.LastSeen) {
			s.LastSeen = c.Timestamp
		}
	}
	return s
}

// Config tunes the snapshot client.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	Retry             sources.RetryPolicy
	HTTPClient        sources.HTTPDoer
	Logger            *slog.Logger
	Metrics           *metrics.Recorder
}

// Client queries the capture index. All requests share one limiter.
type Client struct {
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
	retry   sources.RetryPolicy
	http    sources.HTTPDoer
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New constructs a Client. RequestsPerMinute <= 0 disables pacing.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		retry:   cfg.Retry,
		http:    client,
		logger:  logger.With(slog.String("source", Source)),
		metrics: cfg.Metrics,
	}
}

// Index lists successful captures of domain, collapsed to one per day.
func (c *Client) Index(ctx context.Context, domain string) ([]Capture, error) {
	query := url.Values{}
	query.Set("url", domain)
	query.Set("output", "json")
	query.Set("fl", "timestamp,original,statuscode")
	query.Set("filter", "statuscode:200")
	query.Set("collapse", "timestamp:8")
	target := c.baseURL + "/cdx/search/cdx?" + query.Encode()

	body, err := sources.Retry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, "index", target, 0)
	})
	if err != nil {
		return nil, err
	}
	captures, err := parseIndex(body)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "snapshot index fetched",
		slog.String("domain", domain),
		slog.Int("captures", len(captures)),
	)
	return captures, nil
}

// Content fetches the archived body of capture without the archive's toolbar
// rewriting. The body is truncated to 512KiB.
func (c *Client) Content(ctx context.Context, capture Capture) ([]byte, error) {
	target := fmt.Sprintf("%s/web/%sid_/%s", c.baseURL, capture.Timestamp.UTC().Format(TimestampLayout), capture.Original)
	return sources.Retry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, "content", target, maxContent)
	})
}

func (c *Client) get(ctx context.Context, op, target string, limit int64) (body []byte, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, sources.Classify(Source, "rate limiter wait", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		outcome := op + "_ok"
		if err != nil {
			outcome = op + "_" + string(sources.KindOf(err))
		}
		c.metrics.ObserveSource(Source, outcome, time.Since(start))
	}()

	resp, err := sources.Get(ctx, c.http, Source, target, nil, limit)
	if err != nil {
		return nil, err
	}
	if !sources.OK(resp.Status) {
		return nil, sources.StatusError(Source, resp.Status)
	}
	return resp.Body, nil
}

// parseIndex decodes the archive's table-shaped JSON: a header row followed by
// one row per capture. An empty document means no captures.
func parseIndex(body []byte) ([]Capture, error) {
	if strings.TrimSpace(string(body)) == "" {
		return nil, nil
	}
	var rows [][]string
	if err := sources.DecodeJSON(Source, body, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	tsCol, okTS := col["timestamp"]
	origCol, okOrig := col["original"]
	if !okTS || !okOrig {
		return nil, sources.NewError(Source, sources.KindParse, fmt.Sprintf("unexpected index header %v", header), nil)
	}
	statusCol, okStatus := col["statuscode"]

	captures := make([]Capture, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, sources.NewError(Source, sources.KindParse, fmt.Sprintf("index row has %d columns, want %d", len(row), len(header)), nil)
		}
		ts, err := time.Parse(TimestampLayout, row[tsCol])
		if err != nil {
			return nil, sources.NewError(Source, sources.KindParse, "capture timestamp", err)
		}
		capture := Capture{Timestamp: ts, Original: row[origCol]}
		if okStatus {
			if code, err := strconv.Atoi(row[statusCol]); err == nil {
				capture.StatusCode = code
			}
		}
		captures = append(captures, capture)
	}
	return captures, nil
}
