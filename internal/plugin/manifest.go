// Package plugin discovers plugin manifests, applies enable/disable filters,
// and resolves them into an immutable registry at startup.
package plugin

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/ccproxy-dev/ccproxy/internal/format"
)

// ManifestFileName is the per-plugin manifest file looked up during the
// filesystem scan.
const ManifestFileName = "manifest.yaml"

// Manifest declares what a plugin contributes and requires.
type Manifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	IsProvider  bool   `yaml:"is_provider"`

	// Dependencies are hard; a missing one aborts startup.
	Dependencies []string `yaml:"dependencies,omitempty"`
	// OptionalRequires are soft; the plugin must function without them.
	OptionalRequires []string `yaml:"optional_requires,omitempty"`

	Routers []RouterSpec `yaml:"routers,omitempty"`

	// FormatAdapters are translations this plugin contributes.
	FormatAdapters []AdapterSpec `yaml:"format_adapters,omitempty"`
	// RequiredFormatAdapters are translations this plugin consumes but does
	// not provide; unresolved pairs abort startup.
	RequiredFormatAdapters []AdapterSpec `yaml:"required_format_adapters,omitempty"`

	Tasks []TaskSpec `yaml:"tasks,omitempty"`

	// CLISafe marks plugins that may load in short-lived CLI invocations.
	CLISafe bool `yaml:"cli_safe"`
}

// RouterSpec declares an HTTP route group mounted under a prefix.
type RouterSpec struct {
	Prefix string `yaml:"prefix"`
}

// AdapterSpec names one translation direction.
type AdapterSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Pair returns the typed direction, validating both format names.
func (a AdapterSpec) Pair() (format.Name, format.Name, error) {
	from, to := format.Name(a.From), format.Name(a.To)
	if !from.Valid() {
		return "", "", fmt.Errorf("unknown format %q", a.From)
	}
	if !to.Valid() {
		return "", "", fmt.Errorf("unknown format %q", a.To)
	}
	return from, to, nil
}

func (a AdapterSpec) String() string { return a.From + "->" + a.To }

// TaskSpec declares a scheduled task contributed by the plugin.
type TaskSpec struct {
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"`
	FirstRun bool          `yaml:"first_run"`
	Enabled  *bool         `yaml:"enabled,omitempty"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks structural requirements.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("missing name")
	}
	if m.Version == "" {
		return fmt.Errorf("plugin %q: missing version", m.Name)
	}
	for _, spec := range append(append([]AdapterSpec{}, m.FormatAdapters...), m.RequiredFormatAdapters...) {
		if _, _, err := spec.Pair(); err != nil {
			return fmt.Errorf("plugin %q: adapter %s: %w", m.Name, spec, err)
		}
	}
	for _, r := range m.Routers {
		if r.Prefix == "" {
			return fmt.Errorf("plugin %q: router with empty prefix", m.Name)
		}
	}
	for _, t := range m.Tasks {
		if t.Name == "" {
			return fmt.Errorf("plugin %q: task with empty name", m.Name)
		}
		if t.Interval <= 0 {
			return fmt.Errorf("plugin %q: task %q: interval must be positive", m.Name, t.Name)
		}
	}
	return nil
}
