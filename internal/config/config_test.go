package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no stray .env is picked up
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, FallbackModelID, cfg.FallbackModel)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "streamchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: http://backend:9000/api
connect_timeout: 3s
archive_path: chats.db
telemetry: true
`), 0o644))

	t.Setenv("STREAMCHAT_LISTEN_ADDR", ":9999")
	t.Setenv("STREAMCHAT_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://backend:9000/api", cfg.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "chats.db", cfg.ArchivePath)
	assert.True(t, cfg.Telemetry)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.True(t, cfg.Debug)
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STREAMCHAT_FALLBACK_MODEL=local-9\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("STREAMCHAT_FALLBACK_MODEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local-9", cfg.FallbackModel)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	inTempDir(t)
	t.Setenv("STREAMCHAT_CONNECT_TIMEOUT", "soon")

	_, err := Load("")
	assert.ErrorContains(t, err, "STREAMCHAT_CONNECT_TIMEOUT")
}

func TestLoadMissingFile(t *testing.T) {
	inTempDir(t)
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "empty base url", mutate: func(c *Config) { c.BaseURL = "" }, wantErr: true},
		{name: "bad scheme", mutate: func(c *Config) { c.BaseURL = "ftp://x" }, wantErr: true},
		{name: "no fallback model", mutate: func(c *Config) { c.FallbackModel = "" }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.ConnectTimeout = -time.Second }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}
