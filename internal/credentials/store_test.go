package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ccproxy", "credentials.json")
	store := NewStoreWithPaths(path)

	expiry := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	in := &Credentials{
		AccessToken:      "tok-A",
		RefreshToken:     "ref-A",
		ExpiresAt:        expiry,
		Scopes:           []string{"user:inference", "user:profile"},
		SubscriptionType: "max",
	}
	require.NoError(t, store.Save(in, ""))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	out, loadedFrom, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, path, loadedFrom)
	assert.Equal(t, "tok-A", out.AccessToken)
	assert.Equal(t, "ref-A", out.RefreshToken)
	assert.True(t, out.ExpiresAt.Equal(expiry))
	assert.Equal(t, []string{"user:inference", "user:profile"}, out.Scopes)
	assert.Equal(t, "max", out.SubscriptionType)
	assert.Equal(t, "Bearer", out.TokenType)
}

func TestStoreFileShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := NewStoreWithPaths(path)

	expiry := time.UnixMilli(1700000000000)
	require.NoError(t, store.Save(&Credentials{
		AccessToken: "a", RefreshToken: "r", ExpiresAt: expiry,
	}, ""))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	section, ok := raw["claudeAiOauth"]
	require.True(t, ok)
	assert.Equal(t, "a", section["accessToken"])
	assert.Equal(t, float64(1700000000000), section["expiresAt"])
	assert.Equal(t, "Bearer", section["tokenType"])
}

func TestStoreLoadPriorityOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")
	store := NewStoreWithPaths(first, second)

	require.NoError(t, NewStoreWithPaths(second).Save(&Credentials{AccessToken: "from-second", ExpiresAt: time.Now()}, ""))

	creds, path, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, second, path)
	assert.Equal(t, "from-second", creds.AccessToken)

	require.NoError(t, NewStoreWithPaths(first).Save(&Credentials{AccessToken: "from-first", ExpiresAt: time.Now()}, ""))
	creds, path, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, first, path)
	assert.Equal(t, "from-first", creds.AccessToken)
}

func TestStoreLoadSkipsUnparseableFile(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.json")
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0600))
	require.NoError(t, NewStoreWithPaths(good).Save(&Credentials{AccessToken: "ok", ExpiresAt: time.Now()}, ""))

	creds, path, err := NewStoreWithPaths(broken, good).Load()
	require.NoError(t, err)
	assert.Equal(t, good, path)
	assert.Equal(t, "ok", creds.AccessToken)
}

func TestStoreLoadNotFound(t *testing.T) {
	store := NewStoreWithPaths(filepath.Join(t.TempDir(), "missing.json"))
	_, _, err := store.Load()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.Exists())
}

func TestCredentialsValidHonorsSkew(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"fresh", now.Add(time.Hour), true},
		{"already expired", now.Add(-time.Minute), false},
		{"inside skew window", now.Add(ExpirySkew - time.Minute), false},
		{"just outside skew", now.Add(ExpirySkew + time.Minute), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Credentials{AccessToken: "t", ExpiresAt: tc.expiresAt}
			assert.Equal(t, tc.want, c.Valid(now))
		})
	}

	var nilCreds *Credentials
	assert.False(t, nilCreds.Valid(now))
	assert.False(t, (&Credentials{ExpiresAt: now.Add(time.Hour)}).Valid(now))
}
