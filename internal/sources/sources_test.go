package sources

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5}, func(context.Context) (int, error) {
		calls++
		return 0, NewError("test", KindParse, "bad shape", nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, KindParse, KindOf(err))
}

func TestRetryRepeatsTransportFailuresUpToBudget(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Multiplier: 2}, func(context.Context) (string, error) {
		calls++
		return "", NewError("test", KindTransport, "dial", errors.New("refused"))
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryReturnsFirstSuccess(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 4}, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewError("test", KindTimeout, "slow", nil)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 2, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, RetryPolicy{MaxAttempts: 10, Delay: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewError("test", KindTransport, "dial", nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestStatusErrorKinds(t *testing.T) {
	require.Equal(t, KindNotFound, StatusError("s", 404).Kind)
	require.Equal(t, KindRateLimited, StatusError("s", 429).Kind)
	require.True(t, StatusError("s", 503).Retryable())
	require.False(t, StatusError("s", 400).Retryable())
}

func TestClassify(t *testing.T) {
	require.Nil(t, Classify("s", "m", nil))
	require.Equal(t, KindTimeout, Classify("s", "m", context.DeadlineExceeded).Kind)
	require.Equal(t, KindTransport, Classify("s", "m", &net.OpError{Op: "dial", Err: errors.New("refused")}).Kind)
	require.True(t, IsTransport(Classify("s", "m", errors.New("boom"))))
}

func TestGetReadsBodyAndReportsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "yes", r.Header.Get("X-Test"))
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	resp, err := Get(context.Background(), srv.Client(), "test", srv.URL+"/x", http.Header{"X-Test": []string{"yes"}}, 5)
	require.NoError(t, err)
	require.Equal(t, http.StatusTeapot, resp.Status)
	require.Equal(t, "short", string(resp.Body))

	target := srv.URL
	srv.Close()
	_, err = Get(context.Background(), http.DefaultClient, "test", target, nil, 0)
	require.Error(t, err)
	require.True(t, IsTransport(err))
}
