// Package config loads the CLI configuration from ~/.parley/config.yaml,
// environment variables and built-in defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/parley-dev/parley/internal/discover"
)

// Session storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the parley CLI configuration.
type Config struct {
	Host           string        `mapstructure:"host"`
	EvalTimeout    time.Duration `mapstructure:"eval_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Scope          string        `mapstructure:"scope"`
	Store          Store         `mapstructure:"store"`
	Repair         Repair        `mapstructure:"repair"`
	Discover       Discover      `mapstructure:"discover"`
}

// Store selects where sessions persist.
type Store struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// Repair configures the external delimiter-repair command.
type Repair struct {
	Command []string      `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Discover tunes server discovery.
type Discover struct {
	Names []string `mapstructure:"names"`
}

// Load reads the configuration from path, or from ~/.parley/config.yaml
// when path is empty. A missing default file is fine; a missing explicit
// file is an error. PARLEY_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file anywhere on the search path: defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("eval_timeout", "2m")
	v.SetDefault("connect_timeout", "2s")
	v.SetDefault("scope", "default")
	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", "")
	v.SetDefault("repair.command", []string{})
	v.SetDefault("repair.timeout", "5s")
	v.SetDefault("discover.names", discover.DefaultProcessNames)
}

// Dir returns the parley configuration directory.
func Dir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".parley"), nil
}

// EnsureDir creates the configuration directory when missing and returns it.
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return dir, os.MkdirAll(dir, 0755)
}

// SessionsPath resolves where the chosen backend keeps sessions: a
// directory for the file backend, a database file for sqlite. An explicit
// store.path wins over the derived location.
func (c *Config) SessionsPath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if c.Store.Backend == BackendSQLite {
		return filepath.Join(dir, "sessions.db"), nil
	}
	return filepath.Join(dir, "sessions", c.Scope), nil
}
