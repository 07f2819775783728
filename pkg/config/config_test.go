package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/metaextract/pkg/archive"
	"github.com/matzehuels/metaextract/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Timeout.Duration)
	assert.Equal(t, "setup.py", cfg.ScriptName)
	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.Equal(t, archive.DefaultMaxBytes, cfg.MaxArchiveBytes)
	assert.Empty(t, cfg.Cache.Namespace)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
interpreter = "/opt/python/bin/python3"
timeout = "90s"

[cache]
backend = "redis"
redis_url = "redis://localhost:6379/1"
ttl = "1h"
namespace = "staging"

[serve]
addr = ":9000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/python/bin/python3", cfg.Interpreter)
	assert.Equal(t, 90*time.Second, cfg.Timeout.Duration)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.Duration)
	assert.Equal(t, "staging", cfg.Cache.Namespace)
	assert.Equal(t, ":9000", cfg.Serve.Addr)
	assert.Equal(t, "setup.py", cfg.ScriptName, "unset keys keep their defaults")
	assert.Equal(t, int64(100<<20), cfg.Serve.MaxUploadBytes)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", `timeout = `},
		{"bad duration", `timeout = "soon"`},
		{"unknown key", `interpeter = "python3"`},
		{"negative timeout", `timeout = "-1s"`},
		{"script path", `script_name = "../setup.py"`},
		{"unknown backend", "[cache]\nbackend = \"memcached\""},
		{"redis without url", "[cache]\nbackend = \"redis\""},
		{"namespace with space", "[cache]\nnamespace = \"my team\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidConfig), "got %v", err)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err, "a missing default file yields defaults")
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidConfig), "an explicit missing file is an error")
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "metaextract", "config.toml"), got)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		EnvPython:   "python3.12",
		EnvTimeout:  "30",
		EnvRedisURL: "redis://cache:6379",
	}))
	require.NoError(t, err)
	assert.Equal(t, "python3.12", cfg.Interpreter)
	assert.Equal(t, 30*time.Second, cfg.Timeout.Duration)
	assert.Equal(t, "redis", cfg.Cache.Backend, "a redis URL selects the redis backend")
	assert.Equal(t, "redis://cache:6379", cfg.Cache.RedisURL)

	cfg = Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{EnvTimeout: "2m", EnvCache: "none"})))
	assert.Equal(t, 2*time.Minute, cfg.Timeout.Duration)
	assert.Equal(t, "none", cfg.Cache.Backend)

	cfg = Default()
	err = cfg.ApplyEnv(env(map[string]string{EnvTimeout: "later"}))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidConfig))
}

func TestCacheOptions(t *testing.T) {
	cfg := Default()
	cfg.Cache.Dir = "/var/cache/metaextract"
	opts := cfg.CacheOptions()
	assert.Equal(t, "file", opts.Backend)
	assert.Equal(t, "/var/cache/metaextract", opts.Dir)
}
