// Package credentials manages on-disk OAuth credentials for upstream
// providers: prioritized path discovery, atomic persistence, and
// refresh-on-expiry with single-flight deduplication.
package credentials

import (
	"time"
)

// ExpirySkew is subtracted from the stored expiry when judging validity, so
// a token is refreshed before it actually lapses.
const ExpirySkew = 5 * time.Minute

// Credentials is the in-memory OAuth credential set for one provider.
type Credentials struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	Scopes           []string
	SubscriptionType string
	TokenType        string
}

// Valid reports whether the access token can still be used, honoring the
// refresh skew.
func (c *Credentials) Valid(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return now.Add(ExpirySkew).Before(c.ExpiresAt)
}

// credentialFile is the JSON shape stored on disk. expiresAt is epoch
// milliseconds.
type credentialFile struct {
	ClaudeAIOauth oauthSection `json:"claudeAiOauth"`
}

type oauthSection struct {
	AccessToken      string   `json:"accessToken"`
	RefreshToken     string   `json:"refreshToken"`
	ExpiresAt        int64    `json:"expiresAt"`
	Scopes           []string `json:"scopes"`
	SubscriptionType string   `json:"subscriptionType,omitempty"`
	TokenType        string   `json:"tokenType"`
}

func (c *Credentials) toFile() credentialFile {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return credentialFile{ClaudeAIOauth: oauthSection{
		AccessToken:      c.AccessToken,
		RefreshToken:     c.RefreshToken,
		ExpiresAt:        c.ExpiresAt.UnixMilli(),
		Scopes:           c.Scopes,
		SubscriptionType: c.SubscriptionType,
		TokenType:        tokenType,
	}}
}

func (f credentialFile) toCredentials() *Credentials {
	s := f.ClaudeAIOauth
	return &Credentials{
		AccessToken:      s.AccessToken,
		RefreshToken:     s.RefreshToken,
		ExpiresAt:        time.UnixMilli(s.ExpiresAt),
		Scopes:           s.Scopes,
		SubscriptionType: s.SubscriptionType,
		TokenType:        s.TokenType,
	}
}

// AccountProfile caches the provider account info fetched after login.
type AccountProfile struct {
	Organization OrganizationInfo `json:"organization"`
	Account      AccountInfo      `json:"account"`
}

// OrganizationInfo describes the account's organization.
type OrganizationInfo struct {
	Name          string `json:"name"`
	Type          string `json:"organization_type,omitempty"`
	BillingType   string `json:"billing_type,omitempty"`
	RateLimitTier string `json:"rate_limit_tier,omitempty"`
}

// AccountInfo describes the individual account.
type AccountInfo struct {
	Email        string `json:"email"`
	FullName     string `json:"full_name,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	HasClaudePro bool   `json:"has_claude_pro,omitempty"`
	HasClaudeMax bool   `json:"has_claude_max,omitempty"`
}
