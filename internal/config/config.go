// Package config loads proxy settings from the XDG config directory with
// environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/sirupsen/logrus"
)

const appDirName = "ccproxy"

// Settings is the process-wide configuration.
type Settings struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`

	// ClientAuthEnabled forwards a client-supplied bearer token to the
	// upstream. When false the Authorization header is stripped and managed
	// credentials are used exclusively.
	ClientAuthEnabled bool   `json:"client_auth_enabled"`
	JWTSecret         string `json:"jwt_secret,omitempty"`

	UpstreamTimeout          Duration `json:"upstream_timeout"`
	RefreshTimeout           Duration `json:"refresh_timeout"`
	SchedulerShutdownTimeout Duration `json:"scheduler_shutdown_timeout"`

	PluginDirs      []string                  `json:"plugin_dirs"`
	EnabledPlugins  []string                  `json:"enabled_plugins"`
	DisabledPlugins []string                  `json:"disabled_plugins"`
	Plugins         map[string]PluginSettings `json:"plugins"`

	CORSOrigins []string `json:"cors_origins"`

	configDir  string
	configFile string
}

// PluginSettings is the per-plugin configuration block.
type PluginSettings struct {
	Enabled *bool          `json:"enabled,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Duration marshals as a Go duration string in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("parse duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds")
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Option is a functional option for Load.
type Option func(*options)

type options struct {
	configDir string
}

// WithConfigDir overrides the config directory, used by tests.
func WithConfigDir(dir string) Option {
	return func(o *options) { o.configDir = dir }
}

func defaults() *Settings {
	return &Settings{
		Host:                     "127.0.0.1",
		Port:                     8080,
		LogLevel:                 "info",
		UpstreamTimeout:          Duration(300 * time.Second),
		RefreshTimeout:           Duration(30 * time.Second),
		SchedulerShutdownTimeout: Duration(10 * time.Second),
		Plugins:                  make(map[string]PluginSettings),
	}
}

// Load reads config.json from the config directory, applies environment
// overrides, and returns the settings. A missing file is not an error.
func Load(opts ...Option) (*Settings, error) {
	o := &options{configDir: filepath.Join(xdg.ConfigHome, appDirName)}
	for _, opt := range opts {
		opt(o)
	}

	s := defaults()
	s.configDir = o.configDir
	s.configFile = filepath.Join(o.configDir, "config.json")

	data, err := os.ReadFile(s.configFile)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", s.configFile, err)
		}
	case os.IsNotExist(err):
		logrus.WithField("path", s.configFile).Debug("No config file, using defaults")
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	s.applyEnv()
	if s.Plugins == nil {
		s.Plugins = make(map[string]PluginSettings)
	}
	if len(s.PluginDirs) == 0 {
		s.PluginDirs = []string{filepath.Join(o.configDir, "plugins")}
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("CCPROXY_HOST"); v != "" {
		s.Host = v
	}
	if v := os.Getenv("CCPROXY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			s.Port = port
		} else {
			logrus.Warnf("Ignoring invalid CCPROXY_PORT=%q", v)
		}
	}
	if v := os.Getenv("CCPROXY_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("CCPROXY_JWT_SECRET"); v != "" {
		s.JWTSecret = v
		s.ClientAuthEnabled = true
	}
}

// ConfigDir returns the resolved configuration directory.
func (s *Settings) ConfigDir() string { return s.configDir }

// ConfigFile returns the resolved configuration file path.
func (s *Settings) ConfigFile() string { return s.configFile }

// Addr returns the listen address.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Save writes the settings back to the config file.
func (s *Settings) Save() error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(s.configFile, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// PluginEnabled applies the allow/deny filters for a plugin name. The
// effective denylist is the explicit denylist plus plugins whose settings
// block says enabled:false.
func (s *Settings) PluginEnabled(name string) bool {
	if ps, ok := s.Plugins[name]; ok && ps.Enabled != nil && !*ps.Enabled {
		return false
	}
	for _, d := range s.DisabledPlugins {
		if d == name {
			return false
		}
	}
	if len(s.EnabledPlugins) > 0 {
		for _, e := range s.EnabledPlugins {
			if e == name {
				return true
			}
		}
		return false
	}
	return true
}

// SetupLogging configures logrus from the settings.
func (s *Settings) SetupLogging() {
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
