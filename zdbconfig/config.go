// Package zdbconfig loads pool configuration from YAML with environment
// variable interpolation and override, and can watch a config file for
// changes to push live into a running pool.ConnectionPool.
package zdbconfig

import (
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/icgo-zdb/zdb/pool"
	"github.com/icgo-zdb/zdb/zdberr"
)

// PoolConfig is the on-disk/environment description of a single pool.
// Fields set via the environment (the `env` tag) take precedence over
// the YAML file, which takes precedence over the defaults applyDefaults
// fills in.
type PoolConfig struct {
	URL               string        `yaml:"url" env:"ZDB_URL"`
	InitialConns      int           `yaml:"initial_connections" env:"ZDB_INITIAL_CONNECTIONS"`
	MaxConns          int           `yaml:"max_connections" env:"ZDB_MAX_CONNECTIONS"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" env:"ZDB_CONNECTION_TIMEOUT"`
	SweepInterval     time.Duration `yaml:"sweep_interval" env:"ZDB_SWEEP_INTERVAL"`
	ReaperEnabled     bool          `yaml:"reaper_enabled" env:"ZDB_REAPER_ENABLED"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} occurrences in the raw YAML with
// the named environment variable's value, leaving the placeholder intact
// if the variable is unset.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return match
	})
}

// Load reads path, applies ${VAR} substitution, parses the YAML, then
// overlays any ZDB_* environment variables present, and validates the
// result.
func Load(path string) (*PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zdberr.Wrap(err, "reading config file %q", path)
	}
	data = substituteEnvVars(data)

	// ReaperEnabled defaults true (spec.md §6.3); set it before unmarshalling
	// so that yaml.Unmarshal and env.Parse, which only touch keys/vars they
	// actually find, can still override it to false explicitly.
	cfg := &PoolConfig{ReaperEnabled: true}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, zdberr.Wrap(err, "parsing config file %q", path)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, zdberr.Wrap(err, "applying environment overrides")
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *PoolConfig) {
	if cfg.MaxConns == 0 {
		cfg.MaxConns = pool.DefaultMaxConnections
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = pool.DefaultConnectionTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = pool.DefaultSweepInterval
	}
}

func validate(cfg *PoolConfig) error {
	if cfg.URL == "" {
		return zdberr.New("config: url is required")
	}
	if cfg.InitialConns < 0 {
		return zdberr.New("config: initial_connections must be >= 0")
	}
	if cfg.MaxConns < 1 {
		return zdberr.New("config: max_connections must be >= 1")
	}
	if cfg.InitialConns > cfg.MaxConns {
		return zdberr.New("config: initial_connections (%d) exceeds max_connections (%d)", cfg.InitialConns, cfg.MaxConns)
	}
	return nil
}

// Options translates the config into pool.Option values for pool.New.
func (cfg *PoolConfig) Options() []pool.Option {
	return []pool.Option{
		pool.WithInitialConnections(cfg.InitialConns),
		pool.WithMaxConnections(cfg.MaxConns),
		pool.WithConnectionTimeout(cfg.ConnectionTimeout),
		pool.WithSweepInterval(cfg.SweepInterval),
		pool.WithReaperEnabled(cfg.ReaperEnabled),
	}
}
