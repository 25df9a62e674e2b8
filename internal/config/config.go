// Package config loads pingsix's bootstrap configuration: in-struct
// defaults, an optional YAML file overlay, then environment variable
// overrides, following hermes's config.Load pattern.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhu327/pingsix/internal/catalog"
)

// Config is the top-level bootstrap configuration, matching spec.md §6's
// external-interfaces section: server tuning, listeners, an optional
// dynamic-config source, an optional admin surface, logging, and the
// static bootstrap catalog (routes/upstreams/services/global_rules/ssls).
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Listeners []Listener      `yaml:"listeners"`
	Etcd      *EtcdConfig     `yaml:"etcd"`
	Admin     *AdminConfig    `yaml:"admin"`
	Log       LogConfig       `yaml:"log"`

	Routes      []*catalog.Route      `yaml:"routes"`
	Upstreams   []*catalog.Upstream   `yaml:"upstreams"`
	Services    []*catalog.Service    `yaml:"services"`
	GlobalRules []*catalog.GlobalRule `yaml:"global_rules"`
	SSLs        []*catalog.SSLCert    `yaml:"ssls"`
}

// ServerConfig holds process-wide tuning, independent of any one listener.
type ServerConfig struct {
	Workers        int     `yaml:"workers"`
	ConnectTimeout float64 `yaml:"connect_timeout"`
	SendTimeout    float64 `yaml:"send_timeout"`
	ReadTimeout    float64 `yaml:"read_timeout"`
}

// Listener is one address pingsix accepts connections on.
type Listener struct {
	Address string `yaml:"address"`
	TLSCert string `yaml:"tls_cert,omitempty"`
	TLSKey  string `yaml:"tls_key,omitempty"`
	H2      bool   `yaml:"h2,omitempty"`
	H2C     bool   `yaml:"h2c,omitempty"`
}

// EtcdConfig enables the dynamic-config source, mirroring hermes's
// controller EtcdConfig: endpoints plus a single prefix this gateway's
// catalog is rooted at in the key/value store.
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`
}

// AdminConfig enables the REST admin surface.
type AdminConfig struct {
	Listen string `yaml:"listen"`
	APIKey string `yaml:"api_key"`
}

// LogConfig holds the log section: a level and an access-log file path.
// Both are loaded from YAML and environment overrides; cmd/pingsix does
// not read them when it builds the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Load reads configuration from a YAML file (if it exists) and applies
// environment variable overrides. When the file does not exist, only
// built-in defaults and environment variables are used, letting the
// binary start with zero configuration for local development.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Workers:        0,
			ConnectTimeout: 2,
			SendTimeout:    10,
			ReadTimeout:    10,
		},
		Listeners: []Listener{{Address: "0.0.0.0:9080"}},
		Log:       LogConfig{Level: "info"},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if v := os.Getenv("PINGSIX_LISTEN"); v != "" {
		cfg.Listeners = []Listener{{Address: v}}
	}
	if v := os.Getenv("PINGSIX_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PINGSIX_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("PINGSIX_ADMIN_LISTEN"); v != "" {
		if cfg.Admin == nil {
			cfg.Admin = &AdminConfig{}
		}
		cfg.Admin.Listen = v
	}
	if v := os.Getenv("PINGSIX_ADMIN_KEY"); v != "" {
		if cfg.Admin == nil {
			cfg.Admin = &AdminConfig{}
		}
		cfg.Admin.APIKey = v
	}
	if v := os.Getenv("PINGSIX_ETCD_ENDPOINTS"); v != "" {
		if cfg.Etcd == nil {
			cfg.Etcd = &EtcdConfig{}
		}
		cfg.Etcd.Endpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("PINGSIX_ETCD_PREFIX"); v != "" {
		if cfg.Etcd == nil {
			cfg.Etcd = &EtcdConfig{}
		}
		cfg.Etcd.Prefix = v
	}
	if v := os.Getenv("PINGSIX_ETCD_USERNAME"); v != "" {
		if cfg.Etcd == nil {
			cfg.Etcd = &EtcdConfig{}
		}
		cfg.Etcd.Username = v
	}
	if v := os.Getenv("PINGSIX_ETCD_PASSWORD"); v != "" {
		if cfg.Etcd == nil {
			cfg.Etcd = &EtcdConfig{}
		}
		cfg.Etcd.Password = v
	}
	if v := os.Getenv("PINGSIX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Workers = n
		}
	}

	if cfg.Etcd != nil && cfg.Etcd.Prefix == "" {
		cfg.Etcd.Prefix = "/pingsix"
	}

	return cfg, nil
}
