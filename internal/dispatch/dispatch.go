// Package dispatch is the single choke point for every outbound API call.
// It attaches credentials, enforces the shared request budget, and handles
// retry, backoff, and the one-shot forced credential refresh.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/quinnstephens/multifeed/internal/auth"
	"github.com/quinnstephens/multifeed/internal/clock"
	"github.com/quinnstephens/multifeed/internal/core"
)

// TokenSource supplies and invalidates the bearer credential. Implemented by
// auth.Manager.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

type Config struct {
	BaseURL           string
	UserAgent         string
	MaxQPM            int
	RespectHeaders    bool
	SafetyMinInterval time.Duration
	MaxRetries        int
	Backoff           time.Duration
	MaxBackoff        time.Duration
	Jitter            time.Duration
}

// BudgetState tracks the shared request budget. It is updated from the
// X-Ratelimit response headers when present, otherwise estimated from a
// local counter. Single writer, single reader, serialized behind mu.
type BudgetState struct {
	Used      int
	Remaining float64
	ResetAt   time.Time
	FromHeaders bool
}

// Dispatcher owns all throttling state. No two requests are in flight
// concurrently from the poller, but the state is still mutex-guarded so a
// caller that parallelizes comment fetches stays correct.
type Dispatcher struct {
	cfg     Config
	tokens  TokenSource
	client  *http.Client
	clk     clock.Clock
	limiter *rate.Limiter

	mu          sync.Mutex
	lastRequest time.Time
	budget      BudgetState
}

func New(cfg Config, tokens TokenSource, client *http.Client, clk clock.Clock) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if clk == nil {
		clk = clock.System()
	}
	if cfg.MaxQPM <= 0 {
		cfg.MaxQPM = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Dispatcher{
		cfg:     cfg,
		tokens:  tokens,
		client:  client,
		clk:     clk,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MaxQPM)), 1),
	}
}

// Budget returns a copy of the current budget state.
func (d *Dispatcher) Budget() BudgetState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.budget
}

// Get performs an authenticated GET against endpoint and returns the raw
// response body. All listing, detail, and comment calls go through here so
// the request budget is enforced globally.
func (d *Dispatcher) Get(ctx context.Context, endpoint string, query url.Values) (body []byte, err error) {
	logger := core.LoggerFromContext(ctx)

	ctx, span := otel.Tracer("multifeed/dispatch").Start(ctx, "dispatch.get")
	span.SetAttributes(attribute.String("endpoint", endpoint))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	target := d.cfg.BaseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	failures := 0
	refreshed := false
	for {
		if err := d.throttle(ctx); err != nil {
			return nil, err
		}

		token, err := d.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("build request for %s: %w", endpoint, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", d.cfg.UserAgent)

		d.markSent()
		resp, err := d.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !isTransientNetErr(err) {
				return nil, fmt.Errorf("request %s: %w", endpoint, err)
			}
			failures++
			if failures >= d.cfg.MaxRetries {
				return nil, &RetryExhaustedError{Attempts: failures, Endpoint: endpoint, Err: err}
			}
			if werr := d.backoffWait(ctx, failures-1, 0); werr != nil {
				return nil, werr
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		resp.Body.Close()
		d.updateBudget(resp)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, fmt.Errorf("read response from %s: %w", endpoint, readErr)
			}
			return body, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			// One forced refresh, one retry. A second failure means the
			// grant itself is bad; looping here would refresh forever.
			if refreshed {
				return nil, &auth.AuthError{Reason: fmt.Sprintf("still unauthorized (%d) after forced refresh on %s", resp.StatusCode, endpoint)}
			}
			logger.Info("unauthorized response, forcing credential refresh",
				"status", resp.StatusCode, "endpoint", endpoint)
			d.tokens.Invalidate()
			refreshed = true
			continue

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			failures++
			if failures >= d.cfg.MaxRetries {
				return nil, &RetryExhaustedError{Attempts: failures, StatusCode: resp.StatusCode, Endpoint: endpoint}
			}
			wait := retryAfter(resp)
			logger.Warn("transient failure, backing off",
				"status", resp.StatusCode, "endpoint", endpoint,
				"attempt", failures, "max_retries", d.cfg.MaxRetries)
			if werr := d.backoffWait(ctx, failures-1, wait); werr != nil {
				return nil, werr
			}
			continue

		default:
			return nil, &PermanentClientError{
				StatusCode: resp.StatusCode,
				Endpoint:   endpoint,
				Body:       truncate(string(body), 256),
			}
		}
	}
}

// throttle blocks until the next request may be issued: safety minimum
// interval since the last send, the QPM limiter, then the header-derived
// budget when it says the window is nearly spent.
func (d *Dispatcher) throttle(ctx context.Context) error {
	d.mu.Lock()
	now := d.clk.Now()
	var wait time.Duration
	if !d.lastRequest.IsZero() {
		if elapsed := now.Sub(d.lastRequest); elapsed < d.cfg.SafetyMinInterval {
			wait = d.cfg.SafetyMinInterval - elapsed
		}
	}
	d.mu.Unlock()

	if wait > 0 {
		if err := d.clk.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	if d.cfg.RespectHeaders {
		d.mu.Lock()
		budget := d.budget
		now = d.clk.Now()
		d.mu.Unlock()
		if budget.FromHeaders && budget.Remaining <= 1 && budget.ResetAt.After(now) {
			pause := budget.ResetAt.Sub(now)
			core.LoggerFromContext(ctx).Info("request budget nearly spent, waiting for window reset",
				"remaining", budget.Remaining, "reset_in", pause)
			if err := d.clk.Sleep(ctx, pause); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dispatcher) markSent() {
	d.mu.Lock()
	d.lastRequest = d.clk.Now()
	d.budget.Used++
	if d.budget.FromHeaders && d.budget.Remaining > 0 {
		d.budget.Remaining--
	}
	d.mu.Unlock()
}

func (d *Dispatcher) updateBudget(resp *http.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if remaining := resp.Header.Get("X-Ratelimit-Remaining"); remaining != "" {
		if v, err := strconv.ParseFloat(remaining, 64); err == nil {
			d.budget.Remaining = v
			d.budget.FromHeaders = true
		}
	}
	if used := resp.Header.Get("X-Ratelimit-Used"); used != "" {
		if v, err := strconv.Atoi(used); err == nil {
			d.budget.Used = v
		}
	}
	if reset := resp.Header.Get("X-Ratelimit-Reset"); reset != "" {
		if v, err := strconv.ParseFloat(reset, 64); err == nil {
			d.budget.ResetAt = d.clk.Now().Add(time.Duration(v * float64(time.Second)))
		}
	}
}

// backoffWait sleeps base*2^attempt capped at MaxBackoff, plus jitter.
// serverHint, when positive, comes from a Retry-After header and wins.
func (d *Dispatcher) backoffWait(ctx context.Context, attempt int, serverHint time.Duration) error {
	wait := serverHint
	if wait <= 0 {
		wait = d.cfg.Backoff << uint(attempt)
		if wait > d.cfg.MaxBackoff {
			wait = d.cfg.MaxBackoff
		}
		if d.cfg.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(d.cfg.Jitter)))
		}
	}
	return d.clk.Sleep(ctx, wait)
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func isTransientNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// url.Error wraps both timeouts and connection resets.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout() || urlErr.Temporary() || errors.Is(urlErr.Err, io.EOF)
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
