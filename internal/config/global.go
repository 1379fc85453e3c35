package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yoanbernabeu/nbexec/internal/constants"
)

// GetGlobalConfigPath returns the path to the global config file.
// NBEXEC_CONFIG overrides the default location.
func GetGlobalConfigPath() (string, error) {
	if p := os.Getenv(constants.EnvConfigPath); p != "" {
		return p, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, constants.ConfigDirName, constants.ConfigFileName), nil
}

// resolvePath returns path, or the default location when path is empty
func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return GetGlobalConfigPath()
}

// LoadGlobalConfig loads the global configuration from path (default
// location when empty). A missing file yields the defaults.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultGlobalConfig(), nil
		}
		return nil, fmt.Errorf("failed to read global config: %w", err)
	}

	var config GlobalConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse global config: %w", err)
	}
	config.applyDefaults()

	if errs := ValidateGlobalConfig(&config); errs.HasErrors() {
		return nil, fmt.Errorf("invalid global config %s: %w", path, errs)
	}

	return &config, nil
}

// SaveGlobalConfig saves the global configuration to path (default
// location when empty)
func SaveGlobalConfig(config *GlobalConfig, path string) error {
	path, err := resolvePath(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	// SECURITY: Use 0700 to restrict directory access to owner only
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// SECURITY: Use 0600, the file names hosts and key paths
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write global config: %w", err)
	}

	return nil
}

// GetHost retrieves a host configuration by name
func (c *GlobalConfig) GetHost(name string) (*HostConfig, error) {
	host, ok := c.Hosts[name]
	if !ok {
		return nil, fmt.Errorf("host '%s' not found", name)
	}
	return &host, nil
}

// AddHost adds a new host to the configuration
func (c *GlobalConfig) AddHost(name string, host HostConfig) error {
	if _, exists := c.Hosts[name]; exists {
		return fmt.Errorf("host '%s' already exists", name)
	}

	if host.User == "" {
		host.User = c.DefaultUser
	}
	if host.KeyPath == "" {
		host.KeyPath = c.DefaultKeyPath
	}

	if errs := ValidateHostConfig(name, &host); errs.HasErrors() {
		return errs
	}

	if c.Hosts == nil {
		c.Hosts = make(map[string]HostConfig)
	}
	c.Hosts[name] = host
	return nil
}

// RemoveHost removes a host from the configuration
func (c *GlobalConfig) RemoveHost(name string) error {
	if _, exists := c.Hosts[name]; !exists {
		return fmt.Errorf("host '%s' not found", name)
	}

	delete(c.Hosts, name)
	return nil
}

// ListHosts returns all host names, sorted
func (c *GlobalConfig) ListHosts() []string {
	names := make([]string, 0, len(c.Hosts))
	for name := range c.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EffectiveConnectTimeout returns the host timeout, falling back to the
// global one.
func (c *GlobalConfig) EffectiveConnectTimeout(h *HostConfig) int {
	if h != nil && h.ConnectTimeout > 0 {
		return h.ConnectTimeout
	}
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return constants.DefaultConnectTimeout
}
