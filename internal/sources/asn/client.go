// Package asn reads autonomous-system data from a public registry REST API,
// relaying through an authenticated proxy when the registry is unreachable.
package asn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/l0p7/domainscout/internal/metrics"
	"github.com/l0p7/domainscout/internal/sources"
)

// Source is the label used in errors, logs, and metrics.
const Source = "asn_registry"

// Config tunes the registry client.
type Config struct {
	BaseURL    string
	ProxyURL   string
	ProxyToken string
	Timeout    time.Duration
	Retry      sources.RetryPolicy
	HTTPClient sources.HTTPDoer
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

// Client fetches registry documents directly and falls back to the proxy on
// transport failures. HTTP status failures never trigger the fallback.
type Client struct {
	baseURL    string
	proxyURL   string
	proxyToken string
	timeout    time.Duration
	retry      sources.RetryPolicy
	http       sources.HTTPDoer
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

// New constructs a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
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
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		proxyURL:   strings.TrimSpace(cfg.ProxyURL),
		proxyToken: cfg.ProxyToken,
		timeout:    timeout,
		retry:      cfg.Retry,
		http:       client,
		logger:     logger.With(slog.String("source", Source)),
		metrics:    cfg.Metrics,
	}
}

type envelope struct {
	Status        string          `json:"status"`
	StatusMessage string          `json:"status_message"`
	Data          json.RawMessage `json:"data"`
}

// ASN fetches the registry entity for number.
func (c *Client) ASN(ctx context.Context, number int) (Entity, error) {
	var out Entity
	err := c.Get(ctx, "/asn/"+strconv.Itoa(number), &out)
	return out, err
}

// Prefixes fetches the announced prefixes of number.
func (c *Client) Prefixes(ctx context.Context, number int) (Prefixes, error) {
	var out Prefixes
	err := c.Get(ctx, "/asn/"+strconv.Itoa(number)+"/prefixes", &out)
	return out, err
}

// Peers fetches the peers of number.
func (c *Client) Peers(ctx context.Context, number int) (Peers, error) {
	var out Peers
	err := c.Get(ctx, "/asn/"+strconv.Itoa(number)+"/peers", &out)
	return out, err
}

// Search runs a free-text registry search.
func (c *Client) Search(ctx context.Context, term string) (SearchResult, error) {
	var out SearchResult
	err := c.Get(ctx, "/search?query_term="+url.QueryEscape(term), &out)
	return out, err
}

// Get fetches path (relative to the registry base, optionally with a query)
// and decodes the envelope's data into out. Transport failures of the direct
// call are retried through the proxy when one is configured.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	body, err := sources.Retry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, path)
	})
	if err != nil {
		return err
	}

	var env envelope
	if err := sources.DecodeJSON(Source, body, &env); err != nil {
		return err
	}
	if !strings.EqualFold(env.Status, "ok") {
		msg := env.StatusMessage
		if msg == "" {
			msg = fmt.Sprintf("status %q", env.Status)
		}
		return sources.NewError(Source, sources.KindParse, msg, nil)
	}
	return sources.DecodeJSON(Source, env.Data, out)
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.direct(ctx, path)
	if err != nil && c.proxyURL != "" && sources.IsTransport(err) {
		c.logger.WarnContext(ctx, "registry unreachable, relaying through proxy",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		resp, err = c.proxied(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	if !sources.OK(resp.Status) {
		return nil, sources.StatusError(Source, resp.Status)
	}
	return resp.Body, nil
}

func (c *Client) direct(ctx context.Context, path string) (sources.Response, error) {
	return c.observe(ctx, "direct", c.baseURL+path, nil)
}

func (c *Client) proxied(ctx context.Context, path string) (sources.Response, error) {
	target, err := url.Parse(c.proxyURL)
	if err != nil {
		return sources.Response{}, sources.NewError(Source, sources.KindTransport, "parse proxy url", err)
	}
	query := target.Query()
	query.Set("path", path)
	target.RawQuery = query.Encode()

	header := http.Header{}
	if c.proxyToken != "" {
		header.Set("Authorization", "Bearer "+c.proxyToken)
	}
	return c.observe(ctx, "proxy", target.String(), header)
}

func (c *Client) observe(ctx context.Context, route, target string, header http.Header) (sources.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := sources.Get(ctx, c.http, Source, target, header, 0)
	outcome := route + "_ok"
	switch {
	case err != nil:
		outcome = route + "_" + string(sources.KindOf(err))
	case !sources.OK(resp.Status):
		outcome = route + "_status"
	}
	c.metrics.ObserveSource(Source, outcome, time.Since(start))
	return resp, err
}
