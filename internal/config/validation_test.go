package config

import (
	"strings"
	"testing"
)

func TestValidateHostConfig(t *testing.T) {
	tests := []struct {
		name       string
		hostName   string
		config     *HostConfig
		wantFields []string
	}{
		{
			name:     "valid config",
			hostName: "production",
			config: &HostConfig{
				Host:    "example.com",
				User:    "deploy",
				KeyPath: "/home/deploy/.ssh/id_ed25519",
			},
		},
		{
			name:     "valid ip with timeout",
			hostName: "build-1",
			config: &HostConfig{
				Host:           "10.0.0.1",
				User:           "root",
				ConnectTimeout: 10,
			},
		},
		{
			name:       "missing host",
			hostName:   "production",
			config:     &HostConfig{User: "deploy"},
			wantFields: []string{"host"},
		},
		{
			name:       "missing user",
			hostName:   "production",
			config:     &HostConfig{Host: "example.com"},
			wantFields: []string{"user"},
		},
		{
			name:       "invalid host name",
			hostName:   "prod;rm",
			config:     &HostConfig{Host: "example.com", User: "deploy"},
			wantFields: []string{"name"},
		},
		{
			name:       "injection in host",
			hostName:   "production",
			config:     &HostConfig{Host: "example.com;id", User: "deploy"},
			wantFields: []string{"host"},
		},
		{
			name:       "invalid user",
			hostName:   "production",
			config:     &HostConfig{Host: "example.com", User: "-oProxyCommand=id"},
			wantFields: []string{"user"},
		},
		{
			name:       "bad key path",
			hostName:   "production",
			config:     &HostConfig{Host: "example.com", User: "deploy", KeyPath: "/k/$(id)"},
			wantFields: []string{"key_path"},
		},
		{
			name:       "timeout too large",
			hostName:   "production",
			config:     &HostConfig{Host: "example.com", User: "deploy", ConnectTimeout: 301},
			wantFields: []string{"connect_timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateHostConfig(tt.hostName, tt.config)
			if len(tt.wantFields) == 0 {
				if errs.HasErrors() {
					t.Errorf("expected no errors, got %v", errs)
				}
				return
			}
			for _, field := range tt.wantFields {
				if !hasField(errs, field) {
					t.Errorf("expected error on field %q, got %v", field, errs)
				}
			}
		})
	}
}

func TestValidateGlobalConfig(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*GlobalConfig)
		wantFields []string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*GlobalConfig) {},
		},
		{
			name:       "relative shell",
			mutate:     func(c *GlobalConfig) { c.Shell = "sh" },
			wantFields: []string{"shell"},
		},
		{
			name:       "read size too large",
			mutate:     func(c *GlobalConfig) { c.ReadSize = 2 << 20 },
			wantFields: []string{"read_size"},
		},
		{
			name:       "unknown log format",
			mutate:     func(c *GlobalConfig) { c.Log.Format = "xml" },
			wantFields: []string{"log.format"},
		},
		{
			name:       "unknown log level",
			mutate:     func(c *GlobalConfig) { c.Log.Level = "trace" },
			wantFields: []string{"log.level"},
		},
		{
			name:       "bad metrics addr",
			mutate:     func(c *GlobalConfig) { c.MetricsAddr = "nonsense" },
			wantFields: []string{"metrics_addr"},
		},
		{
			name:   "valid metrics addr",
			mutate: func(c *GlobalConfig) { c.MetricsAddr = "localhost:9100" },
		},
		{
			name:       "default key path breaks quoting",
			mutate:     func(c *GlobalConfig) { c.DefaultKeyPath = `/k"; id; "` },
			wantFields: []string{"default_key_path"},
		},
		{
			name:       "default user with option prefix",
			mutate:     func(c *GlobalConfig) { c.DefaultUser = "-oProxyCommand=id" },
			wantFields: []string{"default_user"},
		},
		{
			name: "dotted default user",
			mutate: func(c *GlobalConfig) {
				c.DefaultUser = "First.Last"
				c.DefaultKeyPath = "/home/me/.ssh/id_ed25519"
			},
		},
		{
			name: "invalid host entry",
			mutate: func(c *GlobalConfig) {
				c.Hosts["prod"] = HostConfig{Host: "example.com"}
			},
			wantFields: []string{"hosts[prod].user"},
		},
		{
			name: "host entry fails custom rule",
			mutate: func(c *GlobalConfig) {
				c.Hosts["prod"] = HostConfig{Host: "bad host", User: "deploy"}
			},
			wantFields: []string{"hosts[prod].host"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultGlobalConfig()
			tt.mutate(cfg)
			errs := ValidateGlobalConfig(cfg)
			if len(tt.wantFields) == 0 {
				if errs.HasErrors() {
					t.Errorf("expected no errors, got %v", errs)
				}
				return
			}
			for _, field := range tt.wantFields {
				if !hasField(errs, field) {
					t.Errorf("expected error on field %q, got %v", field, errs)
				}
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "host", Message: "is required"},
		{Field: "user", Message: "is required"},
	}

	got := errs.Error()
	if got != "host: is required; user: is required" {
		t.Errorf("unexpected error string: %q", got)
	}

	var empty ValidationErrors
	if empty.HasErrors() || empty.Error() != "" {
		t.Error("empty ValidationErrors should report nothing")
	}
}

func TestFieldPath(t *testing.T) {
	tests := map[string]string{
		"GlobalConfig.log.format":       "log.format",
		"GlobalConfig.hosts[prod].user": "hosts[prod].user",
		"HostConfig.host":               "host",
		"plain":                         "plain",
	}
	for in, want := range tests {
		if got := fieldPath(in); got != want {
			t.Errorf("fieldPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func hasField(errs ValidationErrors, field string) bool {
	for _, e := range errs {
		if strings.EqualFold(e.Field, field) {
			return true
		}
	}
	return false
}
