// Package whois queries a registration server over the line-oriented whois
// protocol and parses its loosely structured replies.
package whois

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/l0p7/domainscout/internal/metrics"
	"github.com/l0p7/domainscout/internal/sources"
)

// Source is the label used in errors, logs, and metrics.
const Source = "whois"

const maxReply = 1 << 20

// Config tunes the whois client.
type Config struct {
	Server  string
	Port    int
	Timeout time.Duration
	Retry   sources.RetryPolicy
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Client issues one TCP query per lookup.
type Client struct {
	addr    string
	timeout time.Duration
	retry   sources.RetryPolicy
	dialer  *net.Dialer
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New constructs a Client. Port defaults to 43 and timeout to ten seconds.
func New(cfg Config) *Client {
	port := cfg.Port
	if port <= 0 {
		port = 43
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		addr:    net.JoinHostPort(cfg.Server, strconv.Itoa(port)),
		timeout: timeout,
		retry:   cfg.Retry,
		dialer:  &net.Dialer{Timeout: timeout},
		logger:  logger.With(slog.String("source", Source)),
		metrics: cfg.Metrics,
	}
}

// Lookup queries domain and parses the reply, retrying transport failures.
func (c *Client) Lookup(ctx context.Context, domain string) (Record, error) {
	raw, err := sources.Retry(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.Query(ctx, domain)
	})
	if err != nil {
		return Record{}, err
	}
	return Parse(domain, raw), nil
}

// Query sends domain followed by CRLF and returns everything the server wrote
// before closing the connection or the timeout elapsing. A timeout after some
// data arrived is not an error.
func (c *Client) Query(ctx context.Context, domain string) (reply string, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(sources.KindOf(err))
		}
		c.metrics.ObserveSource(Source, outcome, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", sources.Classify(Source, "dial "+c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return "", sources.Classify(Source, "set deadline", err)
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := io.WriteString(conn, sanitize(domain)+"\r\n"); err != nil {
		return "", sources.Classify(Source, "write query", err)
	}

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for buf.Len() < maxReply {
		n, readErr := conn.Read(chunk)
		buf.Write(chunk[:n])
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if isTimeout(readErr) && buf.Len() > 0 {
			c.logger.DebugContext(ctx, "whois read timed out with partial reply",
				slog.String("domain", domain),
				slog.Int("bytes", buf.Len()),
			)
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", sources.Classify(Source, "read reply", ctxErr)
		}
		return "", sources.Classify(Source, "read reply", readErr)
	}

	if buf.Len() == 0 {
		return "", sources.NewError(Source, sources.KindParse, fmt.Sprintf("empty reply for %s", domain), nil)
	}
	return buf.String(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sanitize strips line breaks so one lookup is always exactly one query line.
func sanitize(domain string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(domain))
}
