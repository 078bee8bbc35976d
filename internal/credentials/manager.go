package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRefreshTimeout bounds the OAuth token endpoint call; it is shorter
// than the upstream request timeout on purpose.
const DefaultRefreshTimeout = 30 * time.Second

// OAuthError is a token-endpoint failure. Transient failures (5xx, network)
// may be retried by a later request; permanent ones (invalid_grant and
// friends) mark the credentials revoked.
type OAuthError struct {
	Code        string
	Description string
	StatusCode  int
	Transient   bool
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth: %s", e.Code)
}

// ManagerConfig carries the provider-specific OAuth parameters.
type ManagerConfig struct {
	TokenURL string
	ClientID string
	// ExtraHeaders are provider identification headers sent with the
	// refresh call.
	ExtraHeaders map[string]string
	Timeout      time.Duration
}

// Manager owns one provider's credentials. It guarantees at most one
// in-flight refresh; concurrent GetAccessToken callers await the same
// outcome.
type Manager struct {
	store  *Store
	config ManagerConfig
	client *http.Client
	now    func() time.Time

	mu       sync.Mutex
	creds    *Credentials
	path     string // file the credentials were loaded from
	revoked  bool
	inflight *refreshCall
	profile  *AccountProfile
}

type refreshCall struct {
	done  chan struct{}
	creds *Credentials
	err   error
}

// NewManager builds a manager over the store.
func NewManager(store *Store, config ManagerConfig) *Manager {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Manager{
		store:  store,
		config: config,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Load primes the in-memory credentials from disk.
func (m *Manager) Load() (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *Manager) loadLocked() (*Credentials, error) {
	creds, path, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	m.creds = creds
	m.path = path
	m.revoked = false
	return creds, nil
}

// Invalidate drops the in-memory cache so the next call re-reads the file.
// The file watcher calls this when the credential file changes externally.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	m.revoked = false
}

// Credentials returns the current in-memory credentials, loading if needed.
func (m *Manager) Credentials() (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds != nil {
		return m.creds, nil
	}
	return m.loadLocked()
}

// Profile returns the cached account profile, if any.
func (m *Manager) Profile() *AccountProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// SetProfile caches the account profile.
func (m *Manager) SetProfile(p *AccountProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = p
}

// Exists reports filesystem presence of a credential file.
func (m *Manager) Exists() bool { return m.store.Exists() }

// Delete removes the credential file and clears in-memory state.
func (m *Manager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	m.profile = nil
	m.revoked = false
	return m.store.Delete()
}

// GetAccessToken returns a valid access token, refreshing if the stored one
// expired. Concurrent callers share a single refresh.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.revoked {
		m.mu.Unlock()
		return "", &OAuthError{Code: "invalid_grant", Description: "credentials revoked"}
	}
	if m.creds == nil {
		if _, err := m.loadLocked(); err != nil {
			m.mu.Unlock()
			return "", err
		}
	}
	if m.creds.Valid(m.now()) {
		token := m.creds.AccessToken
		m.mu.Unlock()
		return token, nil
	}

	// Join an in-flight refresh when one exists.
	if call := m.inflight; call != nil {
		m.mu.Unlock()
		return awaitRefresh(ctx, call)
	}

	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call
	refreshToken := m.creds.RefreshToken
	path := m.path
	m.mu.Unlock()

	creds, err := m.refresh(ctx, refreshToken)

	m.mu.Lock()
	call.creds, call.err = creds, err
	if err == nil {
		m.creds = creds
		if saveErr := m.store.Save(creds, path); saveErr != nil {
			logrus.Errorf("Failed to persist refreshed credentials: %v", saveErr)
		}
	} else if oe, ok := err.(*OAuthError); ok && !oe.Transient {
		m.revoked = true
	}
	m.inflight = nil
	m.mu.Unlock()
	close(call.done)

	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

func awaitRefresh(ctx context.Context, call *refreshCall) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-call.done:
	}
	if call.err != nil {
		return "", call.err
	}
	return call.creds.AccessToken, nil
}

// refresh performs the OAuth refresh_token grant.
func (m *Manager) refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	if refreshToken == "" {
		return nil, &OAuthError{Code: "invalid_grant", Description: "no refresh token available"}
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     m.config.ClientID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range m.config.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &OAuthError{Code: "network_error", Description: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through below
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		oe := &OAuthError{Code: "invalid_grant", StatusCode: resp.StatusCode}
		var detail struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(respBody, &detail) == nil && detail.Error != "" {
			oe.Code = detail.Error
			oe.Description = detail.ErrorDescription
		}
		return nil, oe
	default:
		return nil, &OAuthError{
			Code: "server_error", StatusCode: resp.StatusCode,
			Description: fmt.Sprintf("token endpoint returned %d", resp.StatusCode),
			Transient:   true,
		}
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
		TokenType    string `json:"token_type"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil || payload.AccessToken == "" {
		return nil, &OAuthError{Code: "invalid_response", Description: "malformed token payload", Transient: true}
	}

	m.mu.Lock()
	prev := m.creds
	m.mu.Unlock()

	creds := &Credentials{
		AccessToken: payload.AccessToken,
		ExpiresAt:   m.now().Add(time.Duration(payload.ExpiresIn) * time.Second),
		TokenType:   payload.TokenType,
	}
	if creds.TokenType == "" {
		creds.TokenType = "Bearer"
	}
	creds.RefreshToken = payload.RefreshToken
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	if prev != nil {
		creds.Scopes = prev.Scopes
		creds.SubscriptionType = prev.SubscriptionType
	}
	logrus.WithField("expires_at", creds.ExpiresAt).Info("Refreshed OAuth access token")
	return creds, nil
}
