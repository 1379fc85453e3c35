package config

import (
	"github.com/yoanbernabeu/nbexec/internal/constants"
)

// GlobalConfig represents ~/.config/nbexec/config.yaml
type GlobalConfig struct {
	Hosts          map[string]HostConfig `yaml:"hosts" validate:"dive"`
	DefaultUser    string                `yaml:"default_user,omitempty"`
	DefaultKeyPath string                `yaml:"default_key_path,omitempty"`
	Shell          string                `yaml:"shell,omitempty" validate:"omitempty,startswith=/"`
	ReadSize       int                   `yaml:"read_size,omitempty" validate:"omitempty,min=1,max=1048576"`
	ConnectTimeout int                   `yaml:"connect_timeout,omitempty" validate:"omitempty,min=1,max=300"`
	Log            LogConfig             `yaml:"log,omitempty"`
	MetricsAddr    string                `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
}

// LogConfig controls operational logging
type LogConfig struct {
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// HostConfig represents a named remote host
type HostConfig struct {
	Host           string `yaml:"host" validate:"required"`
	User           string `yaml:"user" validate:"required"`
	KeyPath        string `yaml:"key_path,omitempty"`
	ConnectTimeout int    `yaml:"connect_timeout,omitempty" validate:"omitempty,min=1,max=300"`
}

// DefaultGlobalConfig returns a default global configuration
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Hosts:          make(map[string]HostConfig),
		Shell:          constants.DefaultShell,
		ReadSize:       constants.DefaultReadSize,
		ConnectTimeout: constants.DefaultConnectTimeout,
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// applyDefaults fills zero values left by a partial config file
func (c *GlobalConfig) applyDefaults() {
	def := DefaultGlobalConfig()
	if c.Hosts == nil {
		c.Hosts = def.Hosts
	}
	if c.Shell == "" {
		c.Shell = def.Shell
	}
	if c.ReadSize == 0 {
		c.ReadSize = def.ReadSize
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
