package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 2*time.Minute, cfg.EvalTimeout)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "default", cfg.Scope)
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Empty(t, cfg.Store.Path)
	assert.Empty(t, cfg.Repair.Command)
	assert.Equal(t, 5*time.Second, cfg.Repair.Timeout)
	assert.Contains(t, cfg.Discover.Names, "java")
	assert.Contains(t, cfg.Discover.Names, "bb")
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `host: repl.internal
eval_timeout: 30s
scope: work
store:
  backend: sqlite
repair:
  command: ["parinfer", "--mode", "smart"]
discover:
  names: ["java"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "repl.internal", cfg.Host)
	assert.Equal(t, 30*time.Second, cfg.EvalTimeout)
	assert.Equal(t, "work", cfg.Scope)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, []string{"parinfer", "--mode", "smart"}, cfg.Repair.Command)
	assert.Equal(t, []string{"java"}, cfg.Discover.Names)

	// Unset keys keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.Repair.Timeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PARLEY_HOST", "10.1.2.3")
	t.Setenv("PARLEY_STORE_BACKEND", "sqlite")

	cfg, err := Load(writeConfig(t, "host: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "10.1.2.3", cfg.Host)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
}

func TestDir(t *testing.T) {
	home, err := homedir.Dir()
	require.NoError(t, err)

	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".parley"), dir)
}

func TestEnsureDir(t *testing.T) {
	dir, err := EnsureDir()
	require.NoError(t, err)

	stat, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
}

func TestSessionsPath(t *testing.T) {
	t.Run("explicit path wins", func(t *testing.T) {
		cfg := &Config{Store: Store{Backend: BackendFile, Path: "/srv/parley"}}
		got, err := cfg.SessionsPath()
		require.NoError(t, err)
		assert.Equal(t, "/srv/parley", got)
	})

	t.Run("file backend keeps one directory per scope", func(t *testing.T) {
		dir, err := Dir()
		require.NoError(t, err)

		cfg := &Config{Scope: "work", Store: Store{Backend: BackendFile}}
		got, err := cfg.SessionsPath()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "sessions", "work"), got)
	})

	t.Run("sqlite backend keeps a single database", func(t *testing.T) {
		dir, err := Dir()
		require.NoError(t, err)

		cfg := &Config{Scope: "work", Store: Store{Backend: BackendSQLite}}
		got, err := cfg.SessionsPath()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "sessions.db"), got)
	})
}
