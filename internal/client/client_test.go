package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetries() Option {
	return WithRetryPolicy(3, 10*time.Millisecond, 50*time.Millisecond)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func okResult(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":     []map[string]any{{"?column?": 1}},
		"rowCount": 1,
		"fields":   []map[string]any{{"name": "?column?", "dataTypeID": 23}},
	})
}

func failing(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": true, "message": msg, "code": "QUERY_FAILED"})
}

func TestQuery_SucceedsAfterTwoFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text   string `json:"text"`
			Params []any  `json:"params"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SELECT $1::int", req.Text)
		assert.Equal(t, []any{float64(7)}, req.Params)

		if calls.Add(1) <= 2 {
			failing(w, "connection terminated unexpectedly")
			return
		}
		okResult(w)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var waits []time.Duration
	c := New(srv.URL, fastRetries(), WithRetryHook(func(attempt int, err error, wait time.Duration) {
		mu.Lock()
		waits = append(waits, wait)
		mu.Unlock()
	}))
	defer c.Close()

	start := time.Now()
	res, err := c.Query(context.Background(), "SELECT $1::int", 7)
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(1), res.RowCount)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRetryPolicy_DefaultSchedule(t *testing.T) {
	c := New("http://unused")
	b := c.retryPolicy().backOff()
	b.Reset()

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, b.NextBackOff(), "wait before retry %d", i+1)
	}
}

func TestQuery_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		failing(w, fmt.Sprintf("too many connections (attempt %d)", n))
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetries())
	defer c.Close()

	_, err := c.Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load(), "maxRetries + 1 attempts")

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 4, ce.Attempts)
	assert.Equal(t, http.StatusInternalServerError, ce.StatusCode)
	assert.Equal(t, "too many connections (attempt 4)", ce.Message, "carries the last failure")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "QUERY_FAILED", apiErr.Code)
}

func TestQuery_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": true, "message": "Query text is required", "code": "MISSING_FIELD"})
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetries())
	defer c.Close()

	_, err := c.Query(context.Background(), "")
	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, ce.Attempts)
	assert.Equal(t, http.StatusBadRequest, ce.StatusCode)
	assert.Equal(t, "Query text is required", ce.Message)
}

func TestQuery_RateLimitIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": true, "message": "slow down"})
			return
		}
		okResult(w)
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetries())
	defer c.Close()

	_, err := c.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQuery_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, fastRetries())
	defer c.Close()

	_, err := c.Query(context.Background(), "SELECT 1")
	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 4, ce.Attempts)
	assert.Equal(t, 0, ce.StatusCode)
	assert.Contains(t, ce.Message, "request failed")
}

func TestQuery_ContextCancelStopsWaiting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failing(w, "boom")
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetryPolicy(3, 5*time.Second, 10*time.Second))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Query(ctx, "SELECT 1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestQuery_ConcurrentCallsHaveIndependentRetryState(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		seen[req.Text]++
		n := seen[req.Text]
		mu.Unlock()
		if req.Text == "flaky" && n == 1 {
			failing(w, "transient")
			return
		}
		if req.Text == "broken" {
			failing(w, "permanent server fault")
			return
		}
		okResult(w)
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetries())
	defer c.Close()

	var wg sync.WaitGroup
	var flakyErr, brokenErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, flakyErr = c.Query(context.Background(), "flaky") }()
	go func() { defer wg.Done(); _, brokenErr = c.Query(context.Background(), "broken") }()
	wg.Wait()

	assert.NoError(t, flakyErr)
	assert.Error(t, brokenErr)
	assert.Equal(t, 2, seen["flaky"])
	assert.Equal(t, 4, seen["broken"])
}

func healthServer(t *testing.T, connected *atomic.Bool, probes *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.NotFound(w, r)
			return
		}
		if probes != nil {
			probes.Add(1)
		}
		if connected.Load() {
			writeJSON(w, http.StatusOK, map[string]any{
				"status": "healthy", "database": "connected", "timestamp": time.Now().Format(time.RFC3339),
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "unhealthy", "database": "disconnected", "error": "connection refused",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}))
}

func TestHealth(t *testing.T) {
	var connected atomic.Bool
	srv := healthServer(t, &connected, nil)
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	st, err := c.Health(context.Background())
	require.NoError(t, err, "500 with a health body is a report, not an error")
	assert.Equal(t, "unhealthy", st.Status)
	assert.Equal(t, "connection refused", st.Error)

	connected.Store(true)
	st, err = c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "connected", st.Database)
}

func TestCheckNow_NotifiesEveryListener(t *testing.T) {
	var connected atomic.Bool
	connected.Store(true)
	srv := healthServer(t, &connected, nil)
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	const n = 5
	var mu sync.Mutex
	calls := make([][]bool, n)
	unsubs := make([]func(), n)
	for i := 0; i < n; i++ {
		i := i
		unsubs[i] = c.OnConnectionChange(func(v bool) {
			mu.Lock()
			calls[i] = append(calls[i], v)
			mu.Unlock()
		})
	}

	assert.True(t, c.CheckNow(context.Background()))
	for i := 0; i < n; i++ {
		assert.Equal(t, []bool{true}, calls[i], "listener %d", i)
	}

	unsubs[2]()
	unsubs[2]() // idempotent
	connected.Store(false)
	assert.False(t, c.CheckNow(context.Background()))

	for i := 0; i < n; i++ {
		if i == 2 {
			assert.Equal(t, []bool{true}, calls[i], "unsubscribed listener must not be called again")
			continue
		}
		assert.Equal(t, []bool{true, false}, calls[i], "listener %d", i)
	}

	st := c.State()
	assert.False(t, st.Connected)
	assert.Equal(t, "connection refused", st.LastError)
	assert.False(t, st.CheckedAt.IsZero())
}

func TestCheckNow_RepeatsUnchangedState(t *testing.T) {
	var connected atomic.Bool
	connected.Store(true)
	srv := healthServer(t, &connected, nil)
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	var count atomic.Int32
	c.OnConnectionChange(func(bool) { count.Add(1) })

	c.CheckNow(context.Background())
	c.CheckNow(context.Background())
	assert.Equal(t, int32(2), count.Load())
}

func TestCheckNow_NetworkFailureIsDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url)
	defer c.Close()

	var got []bool
	c.OnConnectionChange(func(v bool) { got = append(got, v) })

	assert.False(t, c.CheckNow(context.Background()))
	assert.Equal(t, []bool{false}, got)
	assert.Contains(t, c.State().LastError, "request failed")
}

func TestCheckNow_MalformedBodyIsDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	assert.False(t, c.CheckNow(context.Background()))
	assert.Contains(t, c.State().LastError, "failed to decode response")
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	var connected atomic.Bool
	connected.Store(true)
	srv := healthServer(t, &connected, nil)
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	var before, after atomic.Int32
	c.OnConnectionChange(func(bool) { before.Add(1) })
	c.OnConnectionChange(func(bool) { panic("listener bug") })
	c.OnConnectionChange(func(bool) { after.Add(1) })

	assert.NotPanics(t, func() { c.CheckNow(context.Background()) })
	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
}

func TestSameListenerRegisteredTwice(t *testing.T) {
	var connected atomic.Bool
	srv := healthServer(t, &connected, nil)
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	var count atomic.Int32
	l := func(bool) { count.Add(1) }
	unsub := c.OnConnectionChange(l)
	c.OnConnectionChange(l)

	c.CheckNow(context.Background())
	assert.Equal(t, int32(2), count.Load())

	unsub()
	c.CheckNow(context.Background())
	assert.Equal(t, int32(3), count.Load(), "only one registration removed")
}

func TestStart_PollsImmediatelyAndPeriodically(t *testing.T) {
	var connected atomic.Bool
	connected.Store(true)
	var probes atomic.Int32
	srv := healthServer(t, &connected, &probes)
	defer srv.Close()

	c := New(srv.URL, WithPollInterval(20*time.Millisecond))

	var notified atomic.Int32
	c.OnConnectionChange(func(v bool) {
		assert.True(t, v)
		notified.Add(1)
	})

	c.Start()
	c.Start() // second call is a no-op

	assert.Eventually(t, func() bool { return notified.Load() >= 1 }, time.Second, 5*time.Millisecond, "first probe runs immediately")
	assert.Eventually(t, func() bool { return notified.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	stopped := probes.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, stopped, probes.Load(), "no probes after Close")
	assert.Equal(t, 0, c.listeners.len())
}

func TestClose_IsIdempotent(t *testing.T) {
	c := New("http://127.0.0.1:1", WithPollInterval(time.Hour))
	c.OnConnectionChange(func(bool) {})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.listeners.len())

	c.Start()
	select {
	case <-c.done:
		t.Fatal("poller must not run after Close")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestClose_WithoutStart(t *testing.T) {
	c := New("http://127.0.0.1:1")
	done := make(chan struct{})
	go func() {
		_ = c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked without a running poller")
	}
}

func TestClose_FromListener(t *testing.T) {
	var connected atomic.Bool
	connected.Store(true)
	srv := healthServer(t, &connected, nil)
	defer srv.Close()

	c := New(srv.URL, WithPollInterval(10*time.Millisecond))
	var calls atomic.Int32
	returned := make(chan struct{})
	c.OnConnectionChange(func(bool) {
		if calls.Add(1) == 1 {
			_ = c.Close()
			close(returned)
		}
	})
	c.Start()

	select {
	case <-returned:
	case <-time.After(3 * time.Second):
		t.Fatal("Close called from a listener did not return")
	}
	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("poller kept running after Close")
	}

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, c.listeners.len())
	require.NoError(t, c.Close())
}

func TestWaitConnected(t *testing.T) {
	var connected atomic.Bool
	srv := healthServer(t, &connected, nil)
	defer srv.Close()

	c := New(srv.URL, WithPollInterval(10*time.Millisecond))
	defer c.Close()
	c.Start()

	go func() {
		time.Sleep(30 * time.Millisecond)
		connected.Store(true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))
	assert.True(t, c.State().Connected)
}

func TestWaitConnected_Closed(t *testing.T) {
	var connected atomic.Bool
	srv := healthServer(t, &connected, nil)
	defer srv.Close()

	c := New(srv.URL)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = c.Close()
	}()

	assert.ErrorIs(t, c.WaitConnected(context.Background()), ErrClosed)
}
