package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envConfigPath = "STRATUM_CONFIG"

// Config represents the stratum configuration file
// (~/.config/stratum/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	Threads        *int64 `yaml:"threads"`
	MinGranularity *int   `yaml:"min_granularity"`

	Backend      string `yaml:"backend"`
	Capabilities string `yaml:"capabilities"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "stratum", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config;
// a malformed one is an error.
func LoadConfig() (Config, error) {
	path := configPath()
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyGlobalConfig applies config file defaults to the global flags that
// were not explicitly set.
func applyGlobalConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.Capabilities != "" && !c.IsSet("caps") {
		capsFlag = cfg.Capabilities
	}
	if cfg.Threads != nil && !c.IsSet("threads") && !c.IsSet("t") {
		threads = *cfg.Threads
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
