// Package token implements the bearer-credential cache described in
// spec §4.6: at most one cached token, proactive renewal within a
// window of expiry, exclusive-lock renewal so concurrent callers
// collapse onto a single in-flight request, and forced invalidation
// on a 401 from the email provider.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/mailblast/internal/logger"
)

// ErrNotInitialized mirrors the rate limiter's typed error for
// pre-init access to the singleton (see the explicit-lifecycle design
// note in spec §9).
var ErrNotInitialized = fmt.Errorf("token: accessed before Init")

// RenewalWindow is how far before expiry a cached token is considered
// due for renewal.
const RenewalWindow = 5 * time.Minute

// Metrics is the subset of metric counters the Token Manager updates;
// internal/metrics.Registry satisfies this.
type Metrics interface {
	IncTokenRenewals()
	SetTokenRenewalError(err string)
}

type noopMetrics struct{}

func (noopMetrics) IncTokenRenewals()         {}
func (noopMetrics) SetTokenRenewalError(string) {}

// Manager holds the cached bearer token and coordinates renewal.
type Manager struct {
	authURL  string
	username string
	password string
	client   *http.Client
	metrics  Metrics
	log      zerolog.Logger

	mu       sync.Mutex
	renewing chan struct{} // non-nil while a renewal is in flight
	token    string
	expiry   time.Time
}

// Config configures a Manager.
type Config struct {
	AuthURL  string
	Username string
	Password string
	Timeout  time.Duration
	Metrics  Metrics
}

// New constructs a Manager. The auth POST carries a 10s timeout per
// spec §5 unless overridden.
func New(cfg Config) *Manager {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	return &Manager{
		authURL:  cfg.AuthURL,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
		metrics:  m,
		log:      logger.Named("token_manager"),
	}
}

var (
	instMu   sync.Mutex
	instance *Manager
)

// Init installs the process-wide singleton.
func Init(cfg Config) *Manager {
	m := New(cfg)
	instMu.Lock()
	instance = m
	instMu.Unlock()
	return m
}

// Get returns the process-wide singleton, or ErrNotInitialized.
func Get() (*Manager, error) {
	instMu.Lock()
	defer instMu.Unlock()
	if instance == nil {
		return nil, ErrNotInitialized
	}
	return instance, nil
}

// authResponse is the shape of the auth provider's response (§6):
// {"access_token": "...", ...}. Expiry is decoded from the token
// itself (a JWT-shaped "exp" claim, base64 segment 2); if that fails,
// a conservative default lifetime is assumed.
type authResponse struct {
	AccessToken string `json:"access_token"`
}

// GetToken returns the cached token if it is live and not within the
// renewal window; otherwise it renews under the exclusive lock and
// returns the fresh token.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.token != "" && time.Until(m.expiry) > RenewalWindow {
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	return m.renew(ctx)
}

// InvalidateAndRenew drops the cached token and renews immediately;
// callers use this after a 401 from the email provider.
func (m *Manager) InvalidateAndRenew(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.token = ""
	m.expiry = time.Time{}
	m.mu.Unlock()
	return m.renew(ctx)
}

// renew performs the exclusive-lock renewal dance: the first caller
// to arrive does the POST; any caller that arrives while one is in
// flight waits on the same result instead of issuing a second POST.
func (m *Manager) renew(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.renewing != nil {
		ch := m.renewing
		m.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		m.mu.Lock()
		tok := m.token
		ok := tok != ""
		m.mu.Unlock()
		if ok {
			return tok, nil
		}
		return "", fmt.Errorf("token: renewal by another caller did not produce a token")
	}

	ch := make(chan struct{})
	m.renewing = ch
	m.mu.Unlock()

	tok, expiry, err := m.fetchToken(ctx)

	m.mu.Lock()
	if err == nil {
		m.token = tok
		m.expiry = expiry
	}
	m.renewing = nil
	m.mu.Unlock()
	close(ch)

	if err != nil {
		m.metrics.SetTokenRenewalError(err.Error())
		return "", err
	}

	m.metrics.IncTokenRenewals()
	m.log.Info().Str("token", logger.MaskToken(tok)).Time("expiry", expiry).Msg("token renewed")
	return tok, nil
}

func (m *Manager) fetchToken(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{
		"username": m.username,
		"password": m.password,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL, strings.NewReader(string(body)))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: auth request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("token: auth provider returned status %d", resp.StatusCode)
	}

	var ar authResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return "", time.Time{}, fmt.Errorf("token: decode auth response: %w", err)
	}
	if ar.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token: auth response missing access_token")
	}

	expiry, err := ExpiryFromToken(ar.AccessToken)
	if err != nil {
		// Conservative fallback: assume a 1-hour lifetime so the
		// renewal window still fires well ahead of any real expiry.
		expiry = time.Now().Add(1 * time.Hour)
	}

	return ar.AccessToken, expiry, nil
}
