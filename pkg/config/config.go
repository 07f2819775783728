// Package config loads metaextract settings from a TOML file and the
// environment.
//
// Precedence, lowest first: built-in defaults, the config file, environment
// variables, command-line flags (applied by the CLI). The default file is
// $XDG_CONFIG_HOME/metaextract/config.toml; a missing default file is not an
// error.
//
// Example:
//
//	interpreter = "/usr/bin/python3"
//	timeout = "2m"
//
//	[cache]
//	backend = "redis"
//	redis_url = "redis://localhost:6379/0"
//	ttl = "168h"
//	namespace = "staging"
//
//	[serve]
//	addr = ":8080"
//	max_upload_bytes = 104857600
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/metaextract/pkg/archive"
	"github.com/matzehuels/metaextract/pkg/buildscript"
	"github.com/matzehuels/metaextract/pkg/cache"
	"github.com/matzehuels/metaextract/pkg/errors"
)

// Environment variables read by ApplyEnv.
const (
	EnvPython   = "METAEXTRACT_PYTHON"
	EnvTimeout  = "METAEXTRACT_TIMEOUT"
	EnvCache    = "METAEXTRACT_CACHE"
	EnvRedisURL = "METAEXTRACT_REDIS_URL"
)

// Config holds every setting the CLI and the server read.
type Config struct {
	Interpreter     string      `toml:"interpreter"`
	Timeout         Duration    `toml:"timeout"`
	ScriptName      string      `toml:"script_name"`
	MaxArchiveBytes int64       `toml:"max_archive_bytes"`
	Cache           CacheConfig `toml:"cache"`
	Serve           ServeConfig `toml:"serve"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Backend  string   `toml:"backend"`
	Dir      string   `toml:"dir"`
	RedisURL string   `toml:"redis_url"`
	TTL      Duration `toml:"ttl"`
	// Namespace scopes cache keys so deployments sharing one store do not
	// see each other's entries.
	Namespace string `toml:"namespace"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Addr           string `toml:"addr"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
}

// Duration is a time.Duration written as a Go duration string ("90s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Timeout:         Duration{buildscript.DefaultTimeout},
		ScriptName:      buildscript.DefaultScriptName,
		MaxArchiveBytes: archive.DefaultMaxBytes,
		Cache: CacheConfig{
			Backend: cache.BackendFile,
			TTL:     Duration{cache.TTLMetadata},
		},
		Serve: ServeConfig{
			Addr:           "127.0.0.1:8080",
			MaxUploadBytes: 100 << 20,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/metaextract/config.toml, falling back
// to the platform's user config directory.
func DefaultPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		var err error
		if base, err = os.UserConfigDir(); err != nil {
			return "", err
		}
	}
	return filepath.Join(base, "metaextract", "config.toml"), nil
}

// Load reads the file at path over the defaults. An empty path loads the
// default file if it exists. Unknown keys are rejected so typos surface.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, errors.Wrap(errors.ErrCodeInvalidConfig, err, "config file %s", path)
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, errors.New(errors.ErrCodeInvalidConfig, "%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides cfg with the METAEXTRACT_* variables returned by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvPython); v != "" {
		c.Interpreter = v
	}
	if v := getenv(EnvTimeout); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "%s=%q", EnvTimeout, v)
		}
		c.Timeout = Duration{d}
	}
	if v := getenv(EnvCache); v != "" {
		c.Cache.Backend = v
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.Cache.RedisURL = v
		if getenv(EnvCache) == "" {
			c.Cache.Backend = cache.BackendRedis
		}
	}
	return c.Validate()
}

// parseTimeout accepts a Go duration or a bare number of seconds.
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if c.Timeout.Duration <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "timeout must be positive, got %s", c.Timeout.Duration)
	}
	if err := errors.ValidateScriptName(c.ScriptName); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "script_name")
	}
	if c.MaxArchiveBytes <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "max_archive_bytes must be positive, got %d", c.MaxArchiveBytes)
	}
	switch c.Cache.Backend {
	case cache.BackendFile, cache.BackendNone:
	case cache.BackendRedis:
		if c.Cache.RedisURL == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "cache backend %q needs cache.redis_url", c.Cache.Backend)
		}
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown cache backend %q (want file, redis or none)", c.Cache.Backend)
	}
	if strings.ContainsAny(c.Cache.Namespace, " \t\r\n") {
		return errors.New(errors.ErrCodeInvalidConfig, "cache.namespace %q must not contain whitespace", c.Cache.Namespace)
	}
	if c.Cache.TTL.Duration < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "cache.ttl must not be negative")
	}
	if c.Serve.MaxUploadBytes <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "serve.max_upload_bytes must be positive, got %d", c.Serve.MaxUploadBytes)
	}
	return nil
}

// CacheOptions converts the cache section for cache.Open.
func (c Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:  c.Cache.Backend,
		Dir:      c.Cache.Dir,
		RedisURL: c.Cache.RedisURL,
	}
}
