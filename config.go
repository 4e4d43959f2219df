package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the tunables of dskinfo. Values come from the defaults, an
// optional TOML file and finally command line flags.
type Config struct {
	Negotiation NegotiationConfig `toml:"negotiation"`
	Workers     int               `toml:"workers"`
	LogLevel    string            `toml:"log_level"`
	LogFormat   string            `toml:"log_format"`
}

func defaultConfig() Config {
	return Config{
		Negotiation: defaultNegotiationConfig(),
		Workers:     runtime.NumCPU(),
		LogLevel:    "warn",
		LogFormat:   "console",
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the sizes and limits for consistency.
func (c Config) Validate() error {
	n := c.Negotiation

	switch {
	case n.LayoutBufferSize <= 0:
		return errors.New("layout buffer size must be positive")
	case n.GeometryBufferSize <= 0:
		return errors.New("geometry buffer size must be positive")
	case n.MaxBufferSize < n.LayoutBufferSize || n.MaxBufferSize < n.GeometryBufferSize:
		return fmt.Errorf("max buffer size %d is smaller than an initial buffer size", n.MaxBufferSize)
	case c.Workers <= 0:
		return errors.New("workers must be positive")
	}

	return nil
}
