package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quinnstephens/multifeed/internal/auth"
	clockmock "github.com/quinnstephens/multifeed/internal/clock/mock"
)

// fakeTokens hands out a static token and counts forced invalidations.
type fakeTokens struct {
	token       string
	invalidated int32
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	return f.token, nil
}

func (f *fakeTokens) Invalidate() {
	atomic.AddInt32(&f.invalidated, 1)
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "multifeed test suite/0.1",
		// High QPM so the limiter never interferes with mock-clock tests.
		MaxQPM:            60000,
		RespectHeaders:    true,
		SafetyMinInterval: 700 * time.Millisecond,
		MaxRetries:        3,
		Backoff:           time.Second,
		MaxBackoff:        time.Minute,
		Jitter:            time.Millisecond,
	}
}

func newTestDispatcher(t *testing.T, handler http.HandlerFunc) (*Dispatcher, *fakeTokens, *clockmock.Clock, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	tokens := &fakeTokens{token: "tok-1"}
	clk := clockmock.NewClock(time.Unix(1700000000, 0))
	return New(testConfig(server.URL), tokens, server.Client(), clk), tokens, clk, server
}

func TestSuccessAttachesAuthAndUserAgent(t *testing.T) {
	var gotAuth, gotUA string
	d, _, _, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`{"ok":true}`))
	})

	body, err := d.Get(context.Background(), "/api/info", url.Values{"id": {"t3_a"}})
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %q", body)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("authorization = %q, want Bearer tok-1", gotAuth)
	}
	if gotUA != "multifeed test suite/0.1" {
		t.Fatalf("user-agent = %q", gotUA)
	}
}

func TestRetryExhaustionOn429(t *testing.T) {
	var requests int32
	d, _, _, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := d.Get(context.Background(), "/listing/new", nil)
	if err == nil {
		t.Fatalf("expected retry exhaustion")
	}
	if !IsRetryExhausted(err) {
		t.Fatalf("expected RetryExhaustedError, got %T: %v", err, err)
	}
	if n := atomic.LoadInt32(&requests); n != 3 {
		t.Fatalf("requests = %d, want exactly the retry threshold of 3", n)
	}
}

func TestSucceedsOneAttemptBeforeThreshold(t *testing.T) {
	var requests int32
	d, _, _, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	body, err := d.Get(context.Background(), "/listing/new", nil)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %q", body)
	}
	if n := atomic.LoadInt32(&requests); n != 3 {
		t.Fatalf("requests = %d, want 3", n)
	}
}

func TestUnauthorizedTriggersSingleRefresh(t *testing.T) {
	var requests int32
	d, tokens, _, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	body, err := d.Get(context.Background(), "/api/info", nil)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %q", body)
	}
	if got := atomic.LoadInt32(&tokens.invalidated); got != 1 {
		t.Fatalf("invalidations = %d, want exactly 1", got)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Fatalf("requests = %d, want 2", n)
	}
}

func TestSecondUnauthorizedIsAuthError(t *testing.T) {
	var requests int32
	d, tokens, _, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := d.Get(context.Background(), "/api/info", nil)
	if !auth.IsAuthError(err) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
	if got := atomic.LoadInt32(&tokens.invalidated); got != 1 {
		t.Fatalf("invalidations = %d, want exactly 1", got)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Fatalf("requests = %d, want 2 (no third attempt)", n)
	}
}

func TestOther4xxIsPermanent(t *testing.T) {
	var requests int32
	d, _, _, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := d.Get(context.Background(), "/api/multi/user/x/m/y", nil)
	if !IsPermanentClient(err) {
		t.Fatalf("expected PermanentClientError, got %T: %v", err, err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Fatalf("requests = %d, want 1 (no retry on permanent client error)", n)
	}
}

func TestSafetyIntervalWaitIsExact(t *testing.T) {
	d, _, clk, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	if _, err := d.Get(context.Background(), "/listing/new", nil); err != nil {
		t.Fatalf("first get failed: %v", err)
	}
	if len(clk.Sleeps) != 0 {
		t.Fatalf("first request should not throttle, slept %v", clk.Sleeps)
	}

	// 300ms of the 700ms safety interval has elapsed; the next send must
	// wait exactly the remaining 400ms.
	clk.Advance(300 * time.Millisecond)
	if _, err := d.Get(context.Background(), "/listing/new", nil); err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if len(clk.Sleeps) != 1 {
		t.Fatalf("sleeps = %v, want exactly one throttle wait", clk.Sleeps)
	}
	if clk.Sleeps[0] != 400*time.Millisecond {
		t.Fatalf("throttle wait = %v, want exactly 400ms", clk.Sleeps[0])
	}
}

func TestNoWaitWhenSafetyIntervalElapsed(t *testing.T) {
	d, _, clk, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	if _, err := d.Get(context.Background(), "/listing/new", nil); err != nil {
		t.Fatalf("first get failed: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := d.Get(context.Background(), "/listing/new", nil); err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if len(clk.Sleeps) != 0 {
		t.Fatalf("expected no throttle wait after interval elapsed, slept %v", clk.Sleeps)
	}
}

func TestHeaderBudgetDelaysUntilReset(t *testing.T) {
	d, _, clk, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", "1.0")
		w.Header().Set("X-Ratelimit-Used", "599")
		w.Header().Set("X-Ratelimit-Reset", "30")
		w.Write([]byte(`{}`))
	})

	if _, err := d.Get(context.Background(), "/listing/new", nil); err != nil {
		t.Fatalf("first get failed: %v", err)
	}
	budget := d.Budget()
	if !budget.FromHeaders || budget.Remaining != 1 || budget.Used != 599 {
		t.Fatalf("budget = %+v, want header-derived remaining=1 used=599", budget)
	}

	// Past the safety interval but inside the exhausted budget window: the
	// dispatcher must wait for the reset instant.
	clk.Advance(time.Second)
	if _, err := d.Get(context.Background(), "/listing/new", nil); err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if len(clk.Sleeps) != 1 {
		t.Fatalf("sleeps = %v, want one budget wait", clk.Sleeps)
	}
	if got := clk.Sleeps[0]; got != 29*time.Second {
		t.Fatalf("budget wait = %v, want 29s (30s reset minus 1s elapsed)", got)
	}
}

func TestCancelledContextAbortsThrottleWait(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	if _, err := d.Get(context.Background(), "/listing/new", nil); err != nil {
		t.Fatalf("first get failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Get(ctx, "/listing/new", nil)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
