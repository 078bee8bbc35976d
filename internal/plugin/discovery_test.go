package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy-dev/ccproxy/internal/config"
)

// The entry-point table is global process state, so the discovery tests
// register under names no other test uses.
func init() {
	RegisterEntryPoint(
		&Manifest{Name: "disc-alpha", Version: "1.0.0"},
		func(*Context) (*Runtime, error) { return &Runtime{}, nil },
	)
	RegisterEntryPoint(
		&Manifest{Name: "disc-beta", Version: "1.0.0"},
		func(*Context) (*Runtime, error) { return &Runtime{}, nil },
	)
}

func discoverNames(t *testing.T, settings *config.Settings) []string {
	t.Helper()
	entries, err := Discover(settings)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Manifest.Name)
	}
	return names
}

func findEntry(t *testing.T, entries []Entry, name string) Entry {
	t.Helper()
	for _, e := range entries {
		if e.Manifest.Name == name {
			return e
		}
	}
	t.Fatalf("entry %q not discovered", name)
	return Entry{}
}

func writeManifest(t *testing.T, pluginDir, name, body string) {
	t.Helper()
	dir := filepath.Join(pluginDir, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(body), 0644))
}

func TestDiscoverIncludesEntryPoints(t *testing.T) {
	names := discoverNames(t, testSettings())
	assert.Contains(t, names, "disc-alpha")
	assert.Contains(t, names, "disc-beta")
	// Sorted load order.
	assert.IsNonDecreasing(t, names)
}

func TestDiscoverFilesystemManifestOverrides(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "disc-alpha", "name: disc-alpha\nversion: 9.9.9\ncli_safe: true\n")

	settings := testSettings()
	settings.PluginDirs = []string{dir}
	entries, err := Discover(settings)
	require.NoError(t, err)

	alpha := findEntry(t, entries, "disc-alpha")
	assert.Equal(t, "9.9.9", alpha.Manifest.Version)
	assert.True(t, alpha.Manifest.CLISafe)
	// The factory still comes from the entry-point table.
	require.NotNil(t, alpha.Factory)
	rt, err := alpha.Factory(&Context{Settings: settings})
	require.NoError(t, err)
	assert.NotNil(t, rt)
}

func TestDiscoverSkipsManifestWithoutFactory(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "orphan", "name: orphan\nversion: 1.0.0\n")

	settings := testSettings()
	settings.PluginDirs = []string{dir}
	names := discoverNames(t, settings)
	assert.NotContains(t, names, "orphan")
}

func TestDiscoverInvalidManifestAborts(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "disc-alpha", "version: 1.0.0\n")

	settings := testSettings()
	settings.PluginDirs = []string{dir}
	_, err := Discover(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing name")
}

func TestDiscoverMissingDirIgnored(t *testing.T) {
	settings := testSettings()
	settings.PluginDirs = []string{filepath.Join(t.TempDir(), "does-not-exist")}
	_, err := Discover(settings)
	assert.NoError(t, err)
}

func TestDiscoverAppliesDenylist(t *testing.T) {
	settings := testSettings()
	settings.DisabledPlugins = []string{"disc-alpha"}
	names := discoverNames(t, settings)
	assert.NotContains(t, names, "disc-alpha")
	assert.Contains(t, names, "disc-beta")
}

func TestDiscoverAppliesAllowlist(t *testing.T) {
	settings := testSettings()
	settings.EnabledPlugins = []string{"disc-beta"}
	names := discoverNames(t, settings)
	assert.Equal(t, []string{"disc-beta"}, names)
}

func TestDiscoverAppliesPerPluginEnabledFlag(t *testing.T) {
	off := false
	settings := testSettings()
	settings.Plugins["disc-beta"] = config.PluginSettings{Enabled: &off}
	names := discoverNames(t, settings)
	assert.NotContains(t, names, "disc-beta")
	assert.Contains(t, names, "disc-alpha")
}
