// Package config holds the on-disk YAML configuration model: the alias
// table, routing and injection rules, retry/backoff tuning, server bind
// address, and management auth. It is read and validated both at process
// bootstrap and on every hot-reload event (internal/reload).
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sicyuan404/proxycast/internal/domain"
)

// Server is the bind/TLS/management-auth surface.
type Server struct {
	Host             string `yaml:"host" json:"host"`
	Port             int    `yaml:"port" json:"port"`
	TLSEnabled       bool   `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile      string `yaml:"tls_cert_file,omitempty" json:"tls_cert_file,omitempty"`
	TLSKeyFile       string `yaml:"tls_key_file,omitempty" json:"tls_key_file,omitempty"`
	APIKey           string `yaml:"api_key" json:"api_key"`
	ManagementKey    string `yaml:"management_key,omitempty" json:"management_key,omitempty"`
	RemoteManagement bool   `yaml:"remote_management" json:"remote_management"`

	// ManagementUpstream is the base URL /api/auth/* and /api/user/* are
	// reverse-proxied to (§6); empty disables the passthrough routes.
	ManagementUpstream string `yaml:"management_upstream,omitempty" json:"management_upstream,omitempty"`
}

// Retry is the pipeline's upstream-call tuning.
type Retry struct {
	UpstreamTimeout    time.Duration `yaml:"upstream_timeout" json:"upstream_timeout"`
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" json:"health_check_timeout"`
	BaseBackoff        time.Duration `yaml:"base_backoff" json:"base_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff" json:"max_backoff"`
	RequestsPerSecond  float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst              int           `yaml:"burst" json:"burst"`
}

// Config is the full, validated, reloadable configuration snapshot.
type Config struct {
	Server  Server                 `yaml:"server" json:"server"`
	Retry   Retry                  `yaml:"retry" json:"retry"`
	Alias   map[string]string      `yaml:"alias" json:"alias"`
	Routes  []domain.RoutingRule   `yaml:"routes" json:"routes"`
	Inject  []domain.InjectionRule `yaml:"inject" json:"inject"`
	Default domain.CredentialKind  `yaml:"default_provider" json:"default_provider"`

	DatabasePath string `yaml:"database_path" json:"database_path"`
	LogDir       string `yaml:"log_dir" json:"log_dir"`
}

// Default returns the zero-config baseline, used when no file is present
// yet and as the fallback a failed validation rolls back to.
func Default() *Config {
	return &Config{
		Server: Server{Host: "127.0.0.1", Port: 8787},
		Retry: Retry{
			UpstreamTimeout: 120 * time.Second, HealthCheckTimeout: 30 * time.Second,
			BaseBackoff: 5 * time.Second, MaxBackoff: 300 * time.Second,
			RequestsPerSecond: 5, Burst: 10,
		},
		Alias:   map[string]string{},
		Default: domain.KindOpenAIKey,
	}
}

// Load reads and parses path onto Default(), so every field the file omits
// keeps its Default() value. It
// does not validate; callers validate separately so the hot-reload manager
// can distinguish a parse failure from a validation failure (§4.11).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the host invariants spec.md §6 names: a loopback bind
// host is always accepted; a non-loopback host is rejected when remote
// management is on without TLS, or when the API key is empty or the
// compiled-in default. It also checks the port, the backoff tuning, and
// that every route and inject rule has a pattern.
func Validate(cfg *Config) error {
	ip := net.ParseIP(cfg.Server.Host)
	isLoopback := cfg.Server.Host == "localhost" || (ip != nil && ip.IsLoopback())

	if !isLoopback {
		if !cfg.Server.TLSEnabled && cfg.Server.RemoteManagement {
			return fmt.Errorf("config: remote_management requires tls_enabled when host is not loopback")
		}
		if cfg.Server.APIKey == "" || cfg.Server.APIKey == defaultAPIKey {
			return fmt.Errorf("config: default or empty api_key is forbidden on a non-loopback host")
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", cfg.Server.Port)
	}
	if cfg.Retry.BaseBackoff <= 0 || cfg.Retry.MaxBackoff < cfg.Retry.BaseBackoff {
		return fmt.Errorf("config: invalid backoff tuning (base=%s max=%s)", cfg.Retry.BaseBackoff, cfg.Retry.MaxBackoff)
	}

	for i, rule := range cfg.Routes {
		if rule.Pattern == "" {
			return fmt.Errorf("config: routes[%d] has an empty pattern", i)
		}
	}
	for i, rule := range cfg.Inject {
		if rule.MatchModelGlob == "" {
			return fmt.Errorf("config: inject[%d] has an empty match glob", i)
		}
	}

	return nil
}

// Save writes cfg to path as YAML, used by the management config-update
// route (§6 "/v0/management/config") after Validate passes and the pipeline
// barrier has been swapped — mirrors the original's save_config command,
// minus its Tauri-specific notifier duality (DESIGN.md Open Questions).
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

const defaultAPIKey = "changeme"
