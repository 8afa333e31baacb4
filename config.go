package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the optional defaults file of the CLI
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig holds values used when the matching flag is not given
type DefaultsConfig struct {
	Threads        *int    `toml:"threads"`
	MaxConnections *int    `toml:"max_connections"`
	SpeedLimit     *string `toml:"speed_limit"`
	Limiter        *string `toml:"limiter"`
	RetryCount     *int    `toml:"retry_count"`
	ReadTimeout    *string `toml:"read_timeout"`
	HPatchz        *string `toml:"hpatchz"`
	MetricsAddr    *string `toml:"metrics_addr"`
}

// ConfigPath returns $XDG_CONFIG_HOME/sophon/config.toml, falling back to ~/.config
func ConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sophon", "config.toml")
}

// LoadConfig reads the defaults file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}

// apply fills the flags left at their zero value
func (c Config) apply(args *Args) error {
	d := c.Defaults
	if args.Threads <= 0 && d.Threads != nil {
		args.Threads = *d.Threads
	}
	if args.MaxConnections <= 0 && d.MaxConnections != nil {
		args.MaxConnections = *d.MaxConnections
	}
	if args.SpeedLimit == "" && d.SpeedLimit != nil {
		args.SpeedLimit = *d.SpeedLimit
	}
	if args.Limiter == "" && d.Limiter != nil {
		args.Limiter = *d.Limiter
	}
	if args.RetryCount == 0 && d.RetryCount != nil {
		args.RetryCount = *d.RetryCount
	}
	if args.ReadTimeout == 0 && d.ReadTimeout != nil {
		timeout, err := time.ParseDuration(*d.ReadTimeout)
		if err != nil {
			return fmt.Errorf("invalid read_timeout %q: %w", *d.ReadTimeout, err)
		}
		args.ReadTimeout = timeout
	}
	if args.HPatchz == "" && d.HPatchz != nil {
		args.HPatchz = *d.HPatchz
	}
	if args.MetricsAddr == "" && d.MetricsAddr != nil {
		args.MetricsAddr = *d.MetricsAddr
	}
	return nil
}
