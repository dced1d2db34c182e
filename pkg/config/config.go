/*
Package config loads reservationd/reservationctl configuration from a YAML
file layered over Default(). There is no environment or command-line
override of individual settings; the commands' flags only choose which
file is read.
*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full node-agent configuration.
type Config struct {
	ServerName string `yaml:"serverName"`
	DataDir    string `yaml:"dataDir"`

	Registry struct {
		Address string `yaml:"address"`
	} `yaml:"registry"`

	Ports struct {
		RangeStart int `yaml:"rangeStart"`
		RangeEnd   int `yaml:"rangeEnd"`
	} `yaml:"ports"`

	Logging struct {
		Level      string `yaml:"level"`
		JSONOutput bool   `yaml:"jsonOutput"`
	} `yaml:"logging"`

	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`

	Notify struct {
		AdminAlertsEnabled bool     `yaml:"adminAlertsEnabled"`
		AdminEmails        []string `yaml:"adminEmails"`
	} `yaml:"notify"`

	AccessControl struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"accessControl"`

	Launch struct {
		RunConfigHook         bool `yaml:"runConfigHook"`
		RAMDiskMinimumPercent int  `yaml:"ramDiskMinimumPercent"`
	} `yaml:"launch"`
}

// Default returns the configuration used when no file is found, matching
// the defaults a fresh single-node install would want.
func Default() *Config {
	c := &Config{
		ServerName: "localhost",
		DataDir:    "./reservation-data",
	}
	c.Registry.Address = "registry.local"
	c.Ports.RangeStart = 20000
	c.Ports.RangeEnd = 40000
	c.Logging.Level = "info"
	c.Metrics.ListenAddress = "127.0.0.1:9090"
	c.Launch.RunConfigHook = true
	c.Launch.RAMDiskMinimumPercent = 1
	return c
}

// Load reads the YAML file at path, falling back to Default() fields for
// anything it leaves unset. A missing file is not an error: Default() is
// returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// RAMDiskEnabled reports whether a reservation's chosen ram-disk percent
// clears the node's configured minimum.
func (c *Config) RAMDiskEnabled(ramDiskSizePercent int) bool {
	return ramDiskSizePercent >= c.Launch.RAMDiskMinimumPercent && ramDiskSizePercent > 0
}
