package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(WithConfigDir(dir))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", s.Host)
	assert.Equal(t, 8080, s.Port)
	assert.Equal(t, "info", s.LogLevel)
	assert.False(t, s.ClientAuthEnabled)
	assert.Equal(t, 300*time.Second, s.UpstreamTimeout.Std())
	assert.Equal(t, 30*time.Second, s.RefreshTimeout.Std())
	assert.Equal(t, 10*time.Second, s.SchedulerShutdownTimeout.Std())
	assert.Equal(t, []string{filepath.Join(dir, "plugins")}, s.PluginDirs)
	assert.NotNil(t, s.Plugins)
	assert.Equal(t, "127.0.0.1:8080", s.Addr())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{
		"host": "0.0.0.0",
		"port": 9090,
		"log_level": "debug",
		"upstream_timeout": "2m",
		"refresh_timeout": 15,
		"disabled_plugins": ["codex"],
		"plugins": {"claude": {"options": {"base_url": "https://alt.test"}}}
	}`), 0600))

	s, err := Load(WithConfigDir(dir))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", s.Host)
	assert.Equal(t, 9090, s.Port)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, 2*time.Minute, s.UpstreamTimeout.Std())
	assert.Equal(t, 15*time.Second, s.RefreshTimeout.Std())
	assert.Equal(t, []string{"codex"}, s.DisabledPlugins)
	assert.Equal(t, "https://alt.test", s.Plugins["claude"].Options["base_url"])
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{oops"), 0600))
	_, err := Load(WithConfigDir(dir))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CCPROXY_HOST", "10.1.2.3")
	t.Setenv("CCPROXY_PORT", "7000")
	t.Setenv("CCPROXY_LOG_LEVEL", "warn")
	t.Setenv("CCPROXY_JWT_SECRET", "sekrit")

	s, err := Load(WithConfigDir(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", s.Host)
	assert.Equal(t, 7000, s.Port)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, "sekrit", s.JWTSecret)
	assert.True(t, s.ClientAuthEnabled)
}

func TestEnvInvalidPortIgnored(t *testing.T) {
	t.Setenv("CCPROXY_PORT", "not-a-port")
	s, err := Load(WithConfigDir(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 8080, s.Port)
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`45`), &d))
	assert.Equal(t, 45*time.Second, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration(2 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"2m0s"`, string(out))
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(WithConfigDir(dir))
	require.NoError(t, err)
	s.Port = 9999
	s.DisabledPlugins = []string{"codex"}
	require.NoError(t, s.Save())

	info, err := os.Stat(s.ConfigFile())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := Load(WithConfigDir(dir))
	require.NoError(t, err)
	assert.Equal(t, 9999, reloaded.Port)
	assert.Equal(t, []string{"codex"}, reloaded.DisabledPlugins)
}

func TestPluginEnabled(t *testing.T) {
	off, on := false, true
	s := &Settings{
		DisabledPlugins: []string{"denied"},
		Plugins: map[string]PluginSettings{
			"soft-off": {Enabled: &off},
			"soft-on":  {Enabled: &on},
		},
	}
	assert.True(t, s.PluginEnabled("anything"))
	assert.False(t, s.PluginEnabled("denied"))
	assert.False(t, s.PluginEnabled("soft-off"))
	assert.True(t, s.PluginEnabled("soft-on"))

	// Allowlist narrows to the named set, denies still win.
	s.EnabledPlugins = []string{"allowed", "denied", "soft-off"}
	assert.True(t, s.PluginEnabled("allowed"))
	assert.False(t, s.PluginEnabled("anything"))
	assert.False(t, s.PluginEnabled("denied"))
	assert.False(t, s.PluginEnabled("soft-off"))
}
