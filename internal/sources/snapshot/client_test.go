package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/domainscout/internal/sources"
)

func TestClientIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cdx/search/cdx", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "tienda.cl", q.Get("url"))
		require.Equal(t, "json", q.Get("output"))
		require.Equal(t, "timestamp,original,statuscode", q.Get("fl"))
		require.Equal(t, "statuscode:200", q.Get("filter"))
		require.Equal(t, "timestamp:8", q.Get("collapse"))
		_, _ = w.Write([]byte(`[["timestamp","original","statuscode"],
			["20150304050607","http://tienda.cl/","200"],
			["20190102030405","http://www.tienda.cl/","200"],
			["20120101000000","http://tienda.cl/","200"]]`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	captures, err := client.Index(context.Background(), "tienda.cl")
	require.NoError(t, err)
	require.Len(t, captures, 3)
	require.Equal(t, 200, captures[0].StatusCode)
	require.Equal(t, "http://tienda.cl/", captures[0].Original)

	summary := Summarize(captures)
	require.Equal(t, 3, summary.Count)
	require.Equal(t, time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC), summary.FirstSeen)
	require.Equal(t, time.Date(2019, 1, 2, 3, 4, 5, 0, time.UTC), summary.LastSeen)
}

func TestClientIndexEmpty(t *testing.T) {
	for _, body := range []string{"", "[]"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		client := New(Config{BaseURL: srv.URL, Timeout: time.Second})
		captures, err := client.Index(context.Background(), "nuevo.cl")
		srv.Close()
		require.NoError(t, err)
		require.Empty(t, captures)
		require.Zero(t, Summarize(captures).Count)
	}
}

func TestClientIndexMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `<html>busy</html>`,
		"missing column": `[["statuscode"],["200"]]`,
		"short row":      `[["timestamp","original"],["20150304050607"]]`,
		"bad timestamp":  `[["timestamp","original"],["2015","http://x.cl/"]]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			client := New(Config{BaseURL: srv.URL, Timeout: time.Second})
			_, err := client.Index(context.Background(), "x.cl")
			require.Error(t, err)
			require.Equal(t, sources.KindParse, sources.KindOf(err))
		})
	}
}

func TestClientIndexStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := client.Index(context.Background(), "x.cl")
	require.Error(t, err)
	require.Equal(t, sources.KindRateLimited, sources.KindOf(err))
}

func TestClientContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/web/20150304050607id_/http://tienda.cl/", r.URL.Path)
		_, _ = w.Write([]byte(strings.Repeat("a", maxContent+100)))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	body, err := client.Content(context.Background(), Capture{
		Timestamp: time.Date(2015, 3, 4, 5, 6, 7, 0, time.UTC),
		Original:  "http://tienda.cl/",
	})
	require.NoError(t, err)
	require.Len(t, body, maxContent)
}

func TestClientPacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	// 600 per minute leaves 100ms between requests after the initial burst.
	client := New(Config{BaseURL: srv.URL, Timeout: time.Second, RequestsPerMinute: 600})
	start := time.Now()
	for range 3 {
		_, err := client.Index(context.Background(), "x.cl")
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestClientLimiterHonoursContext(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:1", RequestsPerMinute: 1})
	require.True(t, client.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := client.Index(ctx, "x.cl")
	require.Error(t, err)
}
