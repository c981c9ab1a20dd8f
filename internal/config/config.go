// Package config loads process-level settings from an optional YAML file,
// to be overlaid with command-line flag values by the caller.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Discovery controls the optional DNS-based bootstrap lookup.
type Discovery struct {
	Enabled       bool   `yaml:"enabled"`
	RendezvousDNS string `yaml:"rendezvous_domain"`
	HostedZoneID  string `yaml:"hosted_zone_id"`
	AWSRegion     string `yaml:"aws_region"`
}

// Config is the full set of process settings. Fields a config file leaves
// unset keep the values returned by Default.
type Config struct {
	Listen    string `yaml:"listen"`
	Advertise string `yaml:"advertise_host"`
	Bootstrap string `yaml:"bootstrap"`

	StorageDir        string `yaml:"storage_dir"`
	SuccessorListSize int    `yaml:"successor_list_size"`

	StabilizeDelay time.Duration `yaml:"stabilize_delay"`
	PingMaxRetries int           `yaml:"ping_max_retries"`
	PingRetryDelay time.Duration `yaml:"ping_retry_delay"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Discovery Discovery `yaml:"discovery"`
}

// Default returns the reference constants from original_source/node.py:
// successor-list depth r=2, STABILIZE_DELAY=20s, PING_MAX_RETRIES=3,
// PING_RETRY_DELAY=20s. The identifier-space width m=8 is not a config
// setting; cmd/chordnode fixes it.
func Default() Config {
	return Config{
		StorageDir:        "./data",
		SuccessorListSize: 2,
		StabilizeDelay:    20 * time.Second,
		PingMaxRetries:    3,
		PingRetryDelay:    20 * time.Second,
		LogLevel:          "info",
	}
}

// Load reads a YAML file at path and merges it over Default(). An empty
// path is not an error and returns Default() — the caller typically passes
// an empty --config. A non-empty path naming a missing file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
