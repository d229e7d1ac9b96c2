// Package config defines the widget driver's process-level configuration:
// a YAML document (optionally overridden by environment variables),
// following the same Parse/Validate split as the Gosuto agent config this
// repo's driver is descended from (spec.md §4.6–§4.8's collaborators are
// all configured from here).
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matrix-org/widget-driver/common/environment"
)

// SpecVersion is the API version string required in every driver config.
const SpecVersion = "widgetdriver/v1"

// Config is the root configuration for one widget-driver process.
type Config struct {
	APIVersion string    `yaml:"apiVersion"`
	Matrix     Matrix    `yaml:"matrix"`
	Transport  Transport `yaml:"transport"`
	Pending    Pending   `yaml:"pending,omitempty"`
	Audit      Audit     `yaml:"audit,omitempty"`
	Approval   Approval  `yaml:"approval"`
}

// Matrix holds the homeserver identity the driver authenticates as.
type Matrix struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"userId"`
	DeviceID    string `yaml:"deviceId"`
	AccessToken string `yaml:"accessToken"`
}

// Transport configures the WebSocket listener widgets connect to.
type Transport struct {
	ListenAddr string `yaml:"listenAddr"`
	Path       string `yaml:"path"`
}

// Pending configures the bounded pending-request registry (spec.md §6.6).
type Pending struct {
	MaxPending int           `yaml:"maxPending,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

// Audit configures the optional SQLite audit trail (SPEC_FULL.md §6.9).
type Audit struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	DBPath  string `yaml:"dbPath,omitempty"`
}

// Approval configures the Matrix-room capability-approval prompt.
type Approval struct {
	Room string `yaml:"room"`
}

// Parse decodes a widget-driver YAML document into a Config and validates
// it, applying environment-variable overrides afterward so deployment
// secrets (the access token, in particular) need not live in the YAML file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets WIDGET_DRIVER_* environment variables override the
// YAML document without requiring a config reload, mirroring the teacher's
// environment-variable-first posture for secrets (common/environment).
func applyEnvOverrides(cfg *Config) {
	cfg.Matrix.Homeserver = environment.StringOr("WIDGET_DRIVER_HOMESERVER", cfg.Matrix.Homeserver)
	cfg.Matrix.UserID = environment.StringOr("WIDGET_DRIVER_USER_ID", cfg.Matrix.UserID)
	cfg.Matrix.AccessToken = environment.StringOr("WIDGET_DRIVER_ACCESS_TOKEN", cfg.Matrix.AccessToken)
	cfg.Transport.ListenAddr = environment.StringOr("WIDGET_DRIVER_LISTEN_ADDR", cfg.Transport.ListenAddr)
	cfg.Pending.MaxPending = environment.IntOr("WIDGET_DRIVER_MAX_PENDING", cfg.Pending.MaxPending)
	cfg.Pending.Timeout = environment.DurationOr("WIDGET_DRIVER_PENDING_TIMEOUT", cfg.Pending.Timeout)
	cfg.Audit.Enabled = environment.BoolOr("WIDGET_DRIVER_AUDIT_ENABLE", cfg.Audit.Enabled)
	cfg.Audit.DBPath = environment.StringOr("WIDGET_DRIVER_AUDIT_DB_PATH", cfg.Audit.DBPath)
	cfg.Approval.Room = environment.StringOr("WIDGET_DRIVER_APPROVAL_ROOM", cfg.Approval.Room)
}

// Validate checks a Config for structural correctness.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if cfg.APIVersion != SpecVersion {
		return fmt.Errorf("apiVersion must be %q, got %q", SpecVersion, cfg.APIVersion)
	}
	if strings.TrimSpace(cfg.Matrix.Homeserver) == "" {
		return fmt.Errorf("matrix.homeserver must not be empty")
	}
	if strings.TrimSpace(cfg.Matrix.UserID) == "" {
		return fmt.Errorf("matrix.userId must not be empty")
	}
	if strings.TrimSpace(cfg.Matrix.AccessToken) == "" {
		return fmt.Errorf("matrix.accessToken must not be empty")
	}
	if strings.TrimSpace(cfg.Transport.ListenAddr) == "" {
		return fmt.Errorf("transport.listenAddr must not be empty")
	}
	if cfg.Pending.MaxPending < 0 {
		return fmt.Errorf("pending.maxPending must be >= 0")
	}
	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.DBPath) == "" {
		return fmt.Errorf("audit.dbPath must be set when audit.enabled is true")
	}
	if strings.TrimSpace(cfg.Approval.Room) == "" {
		return fmt.Errorf("approval.room must not be empty")
	}
	return nil
}
