package plugin

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy-dev/ccproxy/internal/config"
	"github.com/ccproxy-dev/ccproxy/internal/format"
)

type stubProvider struct {
	name   string
	prefix string
}

func (p *stubProvider) Name() string                { return p.name }
func (p *stubProvider) Prefix() string              { return p.prefix }
func (p *stubProvider) UpstreamFormat() format.Name { return format.Anthropic }
func (p *stubProvider) UpstreamURL(endpoint string) string {
	return "https://upstream.test" + endpoint
}
func (p *stubProvider) Headers(context.Context) (http.Header, error) { return http.Header{}, nil }
func (p *stubProvider) StreamingOnly() bool                          { return false }
func (p *stubProvider) Models() []ModelCard                          { return nil }

func testSettings() *config.Settings {
	return &config.Settings{Plugins: map[string]config.PluginSettings{}}
}

func providerEntry(name, prefix string) Entry {
	return Entry{
		Manifest: &Manifest{Name: name, Version: "1.0.0", IsProvider: true},
		Factory: func(*Context) (*Runtime, error) {
			return &Runtime{Provider: &stubProvider{name: name, prefix: prefix}}, nil
		},
	}
}

func TestManifestValidate(t *testing.T) {
	cases := []struct {
		name     string
		manifest Manifest
		wantErr  string
	}{
		{"missing name", Manifest{Version: "1.0.0"}, "missing name"},
		{"missing version", Manifest{Name: "p"}, "missing version"},
		{"bad adapter format", Manifest{Name: "p", Version: "1",
			FormatAdapters: []AdapterSpec{{From: "anthropic", To: "grpc"}}}, `unknown format "grpc"`},
		{"empty router prefix", Manifest{Name: "p", Version: "1",
			Routers: []RouterSpec{{}}}, "empty prefix"},
		{"task without name", Manifest{Name: "p", Version: "1",
			Tasks: []TaskSpec{{Interval: 1}}}, "empty name"},
		{"task without interval", Manifest{Name: "p", Version: "1",
			Tasks: []TaskSpec{{Name: "t"}}}, "interval must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.manifest.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	ok := Manifest{
		Name: "p", Version: "1.0.0",
		FormatAdapters: []AdapterSpec{{From: "openai_chat", To: "anthropic"}},
		Routers:        []RouterSpec{{Prefix: "/p"}},
		Tasks:          []TaskSpec{{Name: "t", Interval: 1}},
	}
	assert.NoError(t, ok.Validate())
}

func TestLoadManifestYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
name: claude
version: 2.1.0
description: Claude upstream provider
is_provider: true
cli_safe: true
dependencies:
  - base
format_adapters:
  - from: anthropic
    to: openai_chat
required_format_adapters:
  - from: openai_chat
    to: anthropic
routers:
  - prefix: /claude
tasks:
  - name: claude-token-refresh
    interval: 15m
    first_run: true
`), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "claude", m.Name)
	assert.Equal(t, "2.1.0", m.Version)
	assert.True(t, m.IsProvider)
	assert.True(t, m.CLISafe)
	assert.Equal(t, []string{"base"}, m.Dependencies)
	require.Len(t, m.FormatAdapters, 1)
	from, to, err := m.FormatAdapters[0].Pair()
	require.NoError(t, err)
	assert.Equal(t, format.Anthropic, from)
	assert.Equal(t, format.Chat, to)
	require.Len(t, m.Tasks, 1)
	assert.Equal(t, "claude-token-refresh", m.Tasks[0].Name)
	assert.Equal(t, "15m0s", m.Tasks[0].Interval.String())
	assert.True(t, m.Tasks[0].FirstRun)
}

func TestLoadManifestRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFileName)
	require.NoError(t, os.WriteFile(path, []byte("version: 1.0.0\n"), 0644))
	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing name")
}

func TestBuildResolvesProviders(t *testing.T) {
	ctx := &Context{Settings: testSettings()}
	reg, err := Build(ctx, []Entry{
		providerEntry("alpha", "/alpha"),
		providerEntry("beta", "/beta"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, reg.Names())
	p, ok := reg.ProviderByPrefix("/alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", p.Name())
	_, ok = reg.ProviderByPrefix("/missing")
	assert.False(t, ok)
	assert.Same(t, reg, ctx.Registry)
}

func TestBuildDuplicateNameAborts(t *testing.T) {
	_, err := Build(&Context{Settings: testSettings()}, []Entry{
		providerEntry("dup", "/a"),
		providerEntry("dup", "/b"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate name "dup"`)
}

func TestBuildMissingDependencyAborts(t *testing.T) {
	entry := providerEntry("needy", "/needy")
	entry.Manifest.Dependencies = []string{"absent"}
	_, err := Build(&Context{Settings: testSettings()}, []Entry{entry})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required dependency "absent"`)
}

func TestBuildPrefixCollisionAborts(t *testing.T) {
	_, err := Build(&Context{Settings: testSettings()}, []Entry{
		providerEntry("one", "/same"),
		providerEntry("two", "/same"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `prefix "/same" already claimed`)
}

func TestBuildProviderContractEnforced(t *testing.T) {
	entry := Entry{
		Manifest: &Manifest{Name: "liar", Version: "1", IsProvider: true},
		Factory:  func(*Context) (*Runtime, error) { return &Runtime{}, nil },
	}
	_, err := Build(&Context{Settings: testSettings()}, []Entry{entry})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contributed no provider")
}

func TestBuildRequiredAdapterResolution(t *testing.T) {
	// All cross-format directions are builtin.
	consumer := providerEntry("consumer", "/consumer")
	consumer.Manifest.RequiredFormatAdapters = []AdapterSpec{
		{From: "openai_chat", To: "anthropic"},
		{From: "openai_responses", To: "openai_chat"},
	}
	reg, err := Build(&Context{Settings: testSettings()}, []Entry{consumer})
	require.NoError(t, err)
	assert.True(t, reg.HasAdapter(format.Chat, format.Anthropic))
	assert.False(t, reg.HasAdapter(format.Chat, format.Chat))

	// An identity direction is only available when some plugin contributes it.
	needy := providerEntry("needy", "/needy")
	needy.Manifest.RequiredFormatAdapters = []AdapterSpec{{From: "anthropic", To: "anthropic"}}
	_, err = Build(&Context{Settings: testSettings()}, []Entry{needy})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapter provides anthropic->anthropic")

	contributor := providerEntry("contributor", "/contrib")
	contributor.Manifest.FormatAdapters = []AdapterSpec{{From: "anthropic", To: "anthropic"}}
	reg, err = Build(&Context{Settings: testSettings()}, []Entry{contributor, needy})
	require.NoError(t, err)
	assert.True(t, reg.HasAdapter(format.Anthropic, format.Anthropic))
}

func TestContextOptions(t *testing.T) {
	settings := testSettings()
	settings.Plugins["tuned"] = config.PluginSettings{
		Options: map[string]any{"base_url": "https://alt.test"},
	}
	ctx := &Context{Settings: settings}
	assert.Equal(t, "https://alt.test", ctx.Options("tuned")["base_url"])
	assert.NotNil(t, ctx.Options("unknown"))
	assert.Empty(t, ctx.Options("unknown"))
}
