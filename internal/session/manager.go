// Package session owns the authentication token pair and provides the
// authenticated-request primitive every other component uses.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"secure-room-access/client/internal/api"
	"secure-room-access/client/internal/keystore"
)

// State is the session lifecycle state.
type State int

// Session states. PendingVerification and PasswordPending occur only during
// first-time account setup.
const (
	StateLoggedOut State = iota
	StatePendingVerification
	StatePasswordPending
	StateLoggedIn
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "LoggedOut"
	case StatePendingVerification:
		return "PendingVerification"
	case StatePasswordPending:
		return "PasswordPending"
	case StateLoggedIn:
		return "LoggedIn"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Sentinel errors.
var (
	// ErrSessionExpired signals that the refresh token was rejected and the
	// session was hard-logged-out. Callers must route the user to login.
	ErrSessionExpired = errors.New("session expired: please log in again")
	// ErrInvalidTransition is returned for setup-state transitions taken out of order.
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// AuthUser is the identity returned by the current-user endpoint.
// Held in memory only; re-fetched after token validation, cleared on logout.
type AuthUser struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Company string `json:"company"`
}

// LoginResult is the outcome of a successful Login call. When
// RequiresVerification is set no tokens were stored and the caller must run
// the OTP verification flow for Email.
type LoginResult struct {
	RequiresVerification bool
	Email                string
}

// Manager maintains the token pair in durable storage and performs the
// refresh-and-retry protocol. Tokens are read fresh from storage on every
// request so a refresh done by one caller is picked up by the next; refreshes
// themselves are single-flight.
type Manager struct {
	api   *api.Client
	store keystore.Store

	mu    sync.Mutex
	state State
	user  *AuthUser

	onReset func()

	refreshGroup   singleflight.Group
	refreshCounter metric.Int64Counter
}

// NewManager returns a Manager over the given transport and store. The initial
// state is LoggedIn when an access token is already persisted.
func NewManager(client *api.Client, store keystore.Store) *Manager {
	m := &Manager{api: client, store: store, state: StateLoggedOut}
	if store.Get(keystore.KeyAccessToken) != "" {
		m.state = StateLoggedIn
	}
	meter := otel.Meter("secure-room-access/client/session")
	m.refreshCounter, _ = meter.Int64Counter("session.token_refreshes",
		metric.WithDescription("Completed access-token refresh attempts, by outcome."))
	return m
}

// OnReset registers the hook invoked by HardLogout, the stand-in for the
// navigation reset to the login screen.
func (m *Manager) OnReset(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReset = fn
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// User returns the in-memory auth user, or nil before CurrentUser succeeds.
func (m *Manager) User() *AuthUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Email returns the persisted account email, or "" when logged out.
func (m *Manager) Email() string {
	return m.store.Get(keystore.KeyUserEmail)
}

// loginResponse covers all three login outcome shapes.
type loginResponse struct {
	AccessToken          string `json:"accessToken"`
	RefreshToken         string `json:"refreshToken"`
	RequiresVerification bool   `json:"requiresVerification"`
	Message              string `json:"message"`
}

// Login posts credentials and handles the three outcomes: verification
// required (no mutation, caller routes to OTP), token pair (persisted, state
// LoggedIn), or failure carrying the server message. Network failures wrap
// api.ErrNetwork and are never retried.
func (m *Manager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	req, err := m.api.NewRequest(ctx, http.MethodPost, api.RouteLogin, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	resp, err := m.api.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrNetwork, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrNetwork, err)
	}
	var data loginResponse
	decodeErr := json.Unmarshal(raw, &data)

	// The server signals unverified accounts with requiresVerification on a
	// non-2xx status; check the flag before the status.
	if data.RequiresVerification {
		m.setState(StatePendingVerification)
		return &LoginResult{RequiresVerification: true, Email: email}, nil
	}
	if data.AccessToken == "" || data.RefreshToken == "" {
		// A 2xx without tokens means the body did not decode; that is a
		// broken response, not a rejected login.
		if decodeErr != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, fmt.Errorf("login: unexpected server response: %w", decodeErr)
		}
		return nil, &api.Error{StatusCode: resp.StatusCode, Message: data.Message}
	}
	if err := m.store.Set(keystore.KeyAccessToken, data.AccessToken); err != nil {
		return nil, err
	}
	if err := m.store.Set(keystore.KeyRefreshToken, data.RefreshToken); err != nil {
		return nil, err
	}
	if err := m.store.Set(keystore.KeyUserEmail, email); err != nil {
		return nil, err
	}
	m.setState(StateLoggedIn)
	return &LoginResult{Email: email}, nil
}

// Refresh exchanges the stored refresh token for a new access token and
// persists it. Returns "" on any failure instead of an error; with no stored
// refresh token it fails fast without a network call. Concurrent callers share
// a single in-flight refresh and its result.
func (m *Manager) Refresh(ctx context.Context) string {
	v, _, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.refreshOnce(ctx), nil
	})
	return v.(string)
}

func (m *Manager) refreshOnce(ctx context.Context) string {
	refreshToken := m.store.Get(keystore.KeyRefreshToken)
	if refreshToken == "" {
		return ""
	}
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	err := m.api.PostJSON(ctx, api.RouteRefreshToken, map[string]string{"refreshToken": refreshToken}, &out)
	if err != nil || out.AccessToken == "" {
		if err != nil {
			log.Printf("session: token refresh failed: %v", err)
		}
		m.countRefresh(ctx, false)
		return ""
	}
	if err := m.store.Set(keystore.KeyAccessToken, out.AccessToken); err != nil {
		log.Printf("session: persist refreshed token: %v", err)
		m.countRefresh(ctx, false)
		return ""
	}
	m.countRefresh(ctx, true)
	return out.AccessToken
}

// Do is the authenticated-fetch primitive. It attaches the stored bearer token
// (read fresh from storage), issues the request, and on 401/403 refreshes
// exactly once: refresh success retries the original request once and returns
// that response as-is; refresh failure hard-logs-out and returns
// ErrSessionExpired. A second 401/403 after the retry is returned unchanged.
func (m *Manager) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = raw
	}
	send := func(token string) (*http.Response, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, m.api.URL(path), reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := m.api.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrNetwork, err)
		}
		return resp, nil
	}

	token := m.store.Get(keystore.KeyAccessToken)
	if token == "" {
		// No access token at all: go straight to the refresh protocol rather
		// than sending an unauthenticated request.
		return m.refreshAndRetry(ctx, send)
	}
	resp, err := send(token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return m.refreshAndRetry(ctx, send)
}

func (m *Manager) refreshAndRetry(ctx context.Context, send func(string) (*http.Response, error)) (*http.Response, error) {
	token := m.Refresh(ctx)
	if token == "" {
		m.HardLogout()
		return nil, ErrSessionExpired
	}
	return send(token)
}

// DoJSON runs Do and decodes the response: 2xx into out (out may be nil),
// non-2xx into *api.Error with the server message.
func (m *Manager) DoJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := m.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return api.DecodeResponse(resp, out)
}

// CurrentUser fetches the auth user through the authenticated primitive and
// caches it in memory.
func (m *Manager) CurrentUser(ctx context.Context) (*AuthUser, error) {
	var u AuthUser
	if err := m.DoJSON(ctx, http.MethodGet, api.RouteUserData, nil, &u); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.user = &u
	m.mu.Unlock()
	return &u, nil
}

// Bootstrap restores session state at startup: with no stored access token it
// leaves the session logged out; otherwise it validates the session by
// fetching the current user, hard-logging-out on failure.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if m.store.Get(keystore.KeyAccessToken) == "" {
		m.setState(StateLoggedOut)
		return nil
	}
	if _, err := m.CurrentUser(ctx); err != nil {
		m.HardLogout()
		return err
	}
	m.setState(StateLoggedIn)
	return nil
}

// LogoutUser notifies the logout endpoint best-effort (failures are logged,
// never surfaced) and then always hard-logs-out.
func (m *Manager) LogoutUser(ctx context.Context) {
	resp, err := m.Do(ctx, http.MethodPost, api.RouteLogout, nil)
	if err != nil {
		log.Printf("session: failed to notify backend during logout: %v", err)
	} else {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	m.HardLogout()
}

// HardLogout clears persisted tokens and email, resets in-memory state, and
// invokes the reset hook. Idempotent; safe to call when already logged out.
func (m *Manager) HardLogout() {
	if err := m.store.Remove(keystore.KeyAccessToken, keystore.KeyRefreshToken, keystore.KeyUserEmail); err != nil {
		log.Printf("session: clear stored credentials: %v", err)
	}
	m.mu.Lock()
	m.state = StateLoggedOut
	m.user = nil
	reset := m.onReset
	m.mu.Unlock()
	if reset != nil {
		reset()
	}
}

// MarkVerified advances the first-login setup from PendingVerification to
// PasswordPending after a successful OTP verification.
func (m *Manager) MarkVerified() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePendingVerification {
		return fmt.Errorf("%w: MarkVerified from %s", ErrInvalidTransition, m.state)
	}
	m.state = StatePasswordPending
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) countRefresh(ctx context.Context, ok bool) {
	if m.refreshCounter == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
