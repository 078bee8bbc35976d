package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ccproxy-dev/ccproxy/internal/config"
)

// entryPoints is the build-time registration table. Plugins compiled into
// the binary register themselves from an init function.
var (
	entryPointsMu sync.Mutex
	entryPoints   = make(map[string]Entry)
)

// RegisterEntryPoint adds a built-in plugin to the discovery table. It
// panics on duplicate registration, which indicates a build error.
func RegisterEntryPoint(manifest *Manifest, factory Factory) {
	if err := manifest.Validate(); err != nil {
		panic(fmt.Sprintf("plugin: invalid entry-point manifest: %v", err))
	}
	entryPointsMu.Lock()
	defer entryPointsMu.Unlock()
	if _, dup := entryPoints[manifest.Name]; dup {
		panic(fmt.Sprintf("plugin: entry point %q registered twice", manifest.Name))
	}
	entryPoints[manifest.Name] = Entry{Manifest: manifest, Factory: factory}
}

func entryPointTable() map[string]Entry {
	entryPointsMu.Lock()
	defer entryPointsMu.Unlock()
	out := make(map[string]Entry, len(entryPoints))
	for k, v := range entryPoints {
		out[k] = v
	}
	return out
}

// Discover merges filesystem manifests with the entry-point table and
// applies the settings' enable/disable filters. On a name collision the
// filesystem manifest overrides the entry-point manifest; the factory always
// comes from the entry-point table since code cannot be loaded from disk.
func Discover(settings *config.Settings) ([]Entry, error) {
	merged := entryPointTable()

	for _, dir := range settings.PluginDirs {
		dirEntries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan plugin directory %s: %w", dir, err)
		}
		for _, de := range dirEntries {
			if !de.IsDir() {
				continue
			}
			manifestPath := filepath.Join(dir, de.Name(), ManifestFileName)
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}
			m, err := LoadManifest(manifestPath)
			if err != nil {
				return nil, err
			}
			existing, known := merged[m.Name]
			if !known {
				logrus.WithFields(logrus.Fields{
					"plugin": m.Name,
					"path":   manifestPath,
				}).Warn("Filesystem manifest has no registered factory, skipping")
				continue
			}
			// Filesystem manifest wins over the built-in one.
			merged[m.Name] = Entry{Manifest: m, Factory: existing.Factory}
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Entry
	for _, name := range names {
		if !settings.PluginEnabled(name) {
			logrus.WithField("plugin", name).Debug("Plugin disabled by configuration")
			continue
		}
		out = append(out, merged[name])
	}
	return out, nil
}
