// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the patchfleet configuration from file, environment
// and command line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/patchfleet/internal/remote"
)

// Config is the application configuration.
type Config struct {
	Database  Database                  `mapstructure:"database" yaml:"database"`
	Language  string                    `mapstructure:"language" yaml:"language"`
	Log       Log                       `mapstructure:"log" yaml:"log"`
	Transport Transport                 `mapstructure:"transport" yaml:"transport"`
	Queue     Queue                     `mapstructure:"queue" yaml:"queue"`
	Feed      Feed                      `mapstructure:"feed" yaml:"feed"`
	Patch     Patch                     `mapstructure:"patch" yaml:"patch"`
	API       Listener                  `mapstructure:"api" yaml:"api"`
	Metrics   Listener                  `mapstructure:"metrics" yaml:"metrics"`
	Profiles  map[string]remote.Profile `mapstructure:"profiles" yaml:"profiles,omitempty"`
}

type Database struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Transport holds the SSH timeouts towards the control node.
type Transport struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// Queue selects the job queue. Driver is "local" or "amqp".
type Queue struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	URL         string `mapstructure:"url" yaml:"url,omitempty"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

type Feed struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Patch struct {
	UpdatePolicy string `mapstructure:"update_policy" yaml:"update_policy"`
}

// Listener is a listen address. An empty address disables the listener.
type Listener struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Defaults returns the built-in configuration values keyed the way viper
// expects them.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":             "sqlite",
		"database.dsn":              "./patchfleet.db",
		"language":                  "en",
		"log.level":                 "info",
		"transport.connect_timeout": "10s",
		"transport.command_timeout": "10m",
		"queue.driver":              "local",
		"queue.concurrency":         4,
		"feed.base_url":             "https://access.redhat.com/labs/securitydataapi",
		"feed.timeout":              "30s",
		"patch.update_policy":       "abort",
		"api.listen":                ":8080",
		"metrics.listen":            ":9090",
	}
}

// GetConfigPath returns the full path of the user or system configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Patchfleet")
		default:
			configDir = "/etc/patchfleet"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "patchfleet")
	}

	return filepath.Join(configDir, "patchfleet.yaml"), nil
}

// LoadConfig merges defaults, the first patchfleet.yaml found, PATCHFLEET_
// environment variables and the flags of cmd, in increasing precedence.
// A missing config file is returned as viper.ConfigFileNotFoundError
// together with the config built from the other sources.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("patchfleet")
	v.SetConfigType("yaml")
	if configFile != nil && *configFile != "" {
		v.SetConfigFile(*configFile)
	}
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	var notFound error
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
		notFound = err
	} else if empty(v.ConfigFileUsed()) {
		// An empty file is treated like a missing one so it gets rewritten.
		notFound = viper.ConfigFileNotFoundError{}
	}

	v.SetEnvPrefix("patchfleet")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, notFound
}

func empty(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Size() == 0
}

// WriteConfigFile writes c to the user or system configuration path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}
	return WriteConfigFileTo(c, path)
}

// WriteConfigFileTo writes c as YAML to path, creating its directory.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	// Profiles name key files and passphrase variables.
	return os.WriteFile(path, data, 0o600)
}
