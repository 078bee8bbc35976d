package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when no credential file exists at any search path.
var ErrNotFound = errors.New("credentials: no credential file found")

// Store reads and writes the credential file. Writes are atomic: a temp
// file in the same directory is fsynced and renamed over the target, so a
// concurrent reader never sees a partial file.
type Store struct {
	paths []string
}

// NewStore builds a store over the default search paths, in priority order:
// $XDG_CONFIG_HOME/ccproxy/credentials.json, ~/.config/ccproxy/credentials.json,
// ~/.claude/credentials.json.
func NewStore() *Store {
	return &Store{paths: defaultPaths()}
}

// NewStoreWithPaths builds a store over explicit paths, used by tests and
// by plugins that keep provider credentials elsewhere.
func NewStoreWithPaths(paths ...string) *Store {
	return &Store{paths: paths}
}

func defaultPaths() []string {
	var paths []string
	paths = append(paths, filepath.Join(xdg.ConfigHome, "ccproxy", "credentials.json"))
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "ccproxy", "credentials.json"),
			filepath.Join(home, ".claude", "credentials.json"),
		)
	}
	return dedupe(paths)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, p := range in {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Load returns the credentials from the first path that parses and
// validates. Parse failures log and fall through to the next path.
func (s *Store) Load() (*Credentials, string, error) {
	for _, path := range s.paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logrus.WithField("path", path).Warnf("Cannot read credential file: %v", err)
			}
			continue
		}
		var file credentialFile
		if err := json.Unmarshal(data, &file); err != nil {
			logrus.WithField("path", path).Warnf("Skipping unparseable credential file: %v", err)
			continue
		}
		creds := file.toCredentials()
		if creds.AccessToken == "" && creds.RefreshToken == "" {
			logrus.WithField("path", path).Warn("Skipping credential file with no tokens")
			continue
		}
		return creds, path, nil
	}
	return nil, "", ErrNotFound
}

// Save persists credentials to the given path (or the first default path
// when empty) with permissions 0600.
func (s *Store) Save(creds *Credentials, path string) error {
	if path == "" {
		if len(s.paths) == 0 {
			return errors.New("credentials: no writable path configured")
		}
		path = s.paths[0]
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	data, err := json.MarshalIndent(creds.toFile(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open temp credential file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync credentials: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close credentials: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename credentials: %w", err)
	}
	return nil
}

// Delete removes every existing credential file on the search path.
func (s *Store) Delete() error {
	var lastErr error
	for _, path := range s.paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			lastErr = err
		}
	}
	return lastErr
}

// Exists reports whether any search path has a credential file.
func (s *Store) Exists() bool {
	for _, path := range s.paths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// Paths returns the configured search paths.
func (s *Store) Paths() []string { return s.paths }
