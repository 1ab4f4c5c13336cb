// Package auth manages the OAuth refresh-token exchange and caches the
// resulting access credential until it is close to expiry.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/quinnstephens/multifeed/internal/clock"
	"github.com/quinnstephens/multifeed/internal/core"
)

// ExpiryBuffer is how long before actual expiry a cached credential is
// treated as stale and refreshed.
const ExpiryBuffer = 5 * time.Minute

// AuthError marks a credential exchange that was permanently rejected. It is
// fatal to the run and never retried automatically.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Reason
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Credential is an opaque bearer value with its absolute expiry instant.
// It is owned by the Manager and replaced wholesale on refresh.
type Credential struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	Scope       string
}

// Config holds the refresh-grant inputs. The refresh token itself never
// leaves this package except inside the token request body.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	UserAgent    string
}

// Manager caches an access credential and refreshes it through the
// refresh-token grant when missing or near expiry.
type Manager struct {
	cfg    Config
	client *http.Client
	clk    clock.Clock

	mu   sync.Mutex
	cred *Credential
}

func NewManager(cfg Config, client *http.Client, clk clock.Clock) *Manager {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Manager{cfg: cfg, client: client, clk: clk}
}

// Token returns a bearer token guaranteed valid for at least ExpiryBuffer,
// refreshing first when the cached credential is absent or near expiry.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cred != nil && m.clk.Now().Before(m.cred.ExpiresAt.Add(-ExpiryBuffer)) {
		return m.cred.AccessToken, nil
	}

	cred, err := m.refresh(ctx)
	if err != nil {
		return "", err
	}
	m.cred = cred
	return cred.AccessToken, nil
}

// Invalidate drops the cached credential so the next Token call refreshes.
// Called by the dispatcher after a 401/403 response.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
}

// Valid reports whether a usable credential is currently cached.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred != nil && m.clk.Now().Before(m.cred.ExpiresAt.Add(-ExpiryBuffer))
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   float64 `json:"expires_in"`
	Scope       string  `json:"scope"`
	Error       string  `json:"error"`
}

func (m *Manager) refresh(ctx context.Context) (*Credential, error) {
	logger := core.LoggerFromContext(ctx)
	logger.Info("requesting access token via refresh grant",
		"client_id", core.MaskSecret(m.cfg.ClientID))

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", m.cfg.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", m.cfg.UserAgent)
	req.SetBasicAuth(m.cfg.ClientID, m.cfg.ClientSecret)

	resp, err := m.client.Do(req)
	if err != nil {
		// The error text can embed the request URL; report only the type.
		return nil, fmt.Errorf("token request failed: %T", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthError{Reason: "invalid client credentials, check client_id and client_secret"}
	case resp.StatusCode == http.StatusBadRequest:
		var tr tokenResponse
		_ = json.Unmarshal(body, &tr)
		if tr.Error == "invalid_grant" {
			return nil, &AuthError{Reason: "invalid or expired refresh token, reauthorize the application"}
		}
		return nil, &AuthError{Reason: fmt.Sprintf("token request rejected: %s", tr.Error)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, &AuthError{Reason: "token response missing access_token"}
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	cred := &Credential{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		ExpiresAt:   m.clk.Now().Add(time.Duration(expiresIn) * time.Second),
		Scope:       tr.Scope,
	}

	logger.Info("obtained access token",
		"expires_in", time.Duration(expiresIn)*time.Second,
		"scope", tr.Scope)

	return cred, nil
}
