// Package claude is the built-in provider plugin for the Anthropic API with
// OAuth-managed credentials.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccproxy-dev/ccproxy/internal/credentials"
	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/plugin"
	"github.com/ccproxy-dev/ccproxy/internal/scheduler"
)

const (
	defaultBaseURL  = "https://api.anthropic.com"
	tokenURL        = "https://console.anthropic.com/v1/oauth/token"
	oauthClientID   = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	anthropicVers   = "2023-06-01"
	oauthBetaHeader = "oauth-2025-04-20"
)

func init() {
	plugin.RegisterEntryPoint(&plugin.Manifest{
		Name:       "claude",
		Version:    "1.0.0",
		IsProvider: true,
		Tasks: []plugin.TaskSpec{
			{Name: "claude-token-refresh", Interval: 15 * time.Minute, FirstRun: true},
		},
		CLISafe: true,
	}, newRuntime)
}

func newRuntime(ctx *plugin.Context) (*plugin.Runtime, error) {
	manager := credentials.NewManager(credentials.NewStore(), credentials.ManagerConfig{
		TokenURL: tokenURL,
		ClientID: oauthClientID,
	})

	watcher, err := credentials.NewWatcher(manager)
	if err == nil {
		if werr := watcher.Start(); werr != nil {
			logrus.Debugf("Claude credential watcher not started: %v", werr)
			watcher = nil
		}
	} else {
		watcher = nil
	}

	baseURL := defaultBaseURL
	if v, ok := ctx.Options("claude")["base_url"].(string); ok && v != "" {
		baseURL = v
	}

	p := &provider{manager: manager, baseURL: baseURL}
	runtime := &plugin.Runtime{
		Provider:    p,
		Credentials: manager,
		Tasks: []plugin.TaskBinding{{
			Task:    &refreshTask{manager: manager},
			Options: scheduler.DefaultTaskOptions(15 * time.Minute),
		}},
		Shutdown: func(context.Context) error {
			if watcher != nil {
				return watcher.Stop()
			}
			return nil
		},
	}
	return runtime, nil
}

type provider struct {
	manager *credentials.Manager
	baseURL string
}

func (p *provider) Name() string                  { return "claude_api" }
func (p *provider) Prefix() string                { return "/claude" }
func (p *provider) UpstreamFormat() format.Name   { return format.Anthropic }
func (p *provider) StreamingOnly() bool           { return false }
func (p *provider) UpstreamURL(endpoint string) string {
	// Every client endpoint funnels into the Messages API upstream.
	return p.baseURL + "/v1/messages"
}

func (p *provider) Headers(ctx context.Context) (http.Header, error) {
	token, err := p.manager.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("anthropic-version", anthropicVers)
	h.Set("anthropic-beta", oauthBetaHeader)
	h.Set("Accept", "application/json")
	return h, nil
}

func (p *provider) Models() []plugin.ModelCard {
	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC).Unix()
	ids := []string{
		"claude-opus-4-1",
		"claude-sonnet-4-5",
		"claude-haiku-4-5",
		"claude-3-5-haiku-latest",
	}
	cards := make([]plugin.ModelCard, 0, len(ids))
	for _, id := range ids {
		cards = append(cards, plugin.ModelCard{
			ID: id, Object: "model", Created: created, OwnedBy: "anthropic",
		})
	}
	return cards
}

// refreshTask keeps the access token warm so requests rarely pay the
// refresh latency.
type refreshTask struct {
	manager *credentials.Manager
}

func (t *refreshTask) Name() string { return "claude-token-refresh" }

func (t *refreshTask) Setup(ctx context.Context) error { return nil }

func (t *refreshTask) Run(ctx context.Context) (bool, error) {
	if !t.manager.Exists() {
		// Nothing to refresh until the user logs in.
		return true, nil
	}
	if _, err := t.manager.GetAccessToken(ctx); err != nil {
		var oe *credentials.OAuthError
		if errors.As(err, &oe) && !oe.Transient {
			logrus.Warnf("Claude credentials revoked, background refresh paused until re-login: %v", err)
			return true, nil
		}
		return false, fmt.Errorf("background token refresh: %w", err)
	}
	return true, nil
}

func (t *refreshTask) Cleanup(ctx context.Context) error { return nil }
