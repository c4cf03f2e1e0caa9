// Package config manages powerapid daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides, layered over
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "POWERAPID_"

// Config is the daemon's fully resolved runtime configuration.
type Config struct {
	Rendezvous          RendezvousConfig  `koanf:"rendezvous"`
	Lifecycle           LifecycleConfig   `koanf:"lifecycle"`
	Metrics             MetricsConfig     `koanf:"metrics"`
	Permissions         PermissionsConfig `koanf:"permissions"`
	Escalation          EscalationConfig  `koanf:"escalation"`
	LogLevel            string            `koanf:"log_level"`
	ResourceManagerRole string            `koanf:"resource_manager_role"`
}

// RendezvousConfig controls the Unix domain socket clients connect to.
type RendezvousConfig struct {
	SocketPath    string `koanf:"socket_path"`
	SocketMode    uint32 `koanf:"socket_mode"`
	MaxSessions   int    `koanf:"max_sessions"`
	QueueCapacity int    `koanf:"queue_capacity"`
}

// LifecycleConfig controls pidfile/dirty-marker/restart-gate paths.
type LifecycleConfig struct {
	PIDFilePath      string        `koanf:"pidfile_path"`
	DirtyMarkerPath  string        `koanf:"dirty_marker_path"`
	AllowRestartPath string        `koanf:"allow_restart_path"`
	WatchdogInterval time.Duration `koanf:"watchdog_interval"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// PermissionsConfig controls the permissions oracle file.
type PermissionsConfig struct {
	FilePath    string `koanf:"file_path"`
	WatchReload bool   `koanf:"watch_reload"`
}

// EscalationConfig controls the D-Bus "mark node admin-down" call.
type EscalationConfig struct {
	Enabled    bool          `koanf:"enabled"`
	BusName    string        `koanf:"bus_name"`
	ObjectPath string        `koanf:"object_path"`
	Timeout    time.Duration `koanf:"timeout"`
}

// DefaultConfig returns the built-in defaults, matching the original
// daemon's compiled-in paths under /var/opt/cray/powerapi.
func DefaultConfig() *Config {
	const stateDir = "/var/opt/cray/powerapi"
	const runDir = stateDir + "/run"

	return &Config{
		Rendezvous: RendezvousConfig{
			SocketPath:    runDir + "/powerapid.sock",
			SocketMode:    0o666,
			MaxSessions:   256,
			QueueCapacity: 4096,
		},
		Lifecycle: LifecycleConfig{
			PIDFilePath:      runDir + "/powerapid.pid",
			DirtyMarkerPath:  runDir + "/powerapid/dirty",
			AllowRestartPath: "/tmp/powerapid-allow-restart",
			WatchdogInterval: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9110",
		},
		Permissions: PermissionsConfig{
			FilePath:    stateDir + "/powerapid.perms",
			WatchReload: true,
		},
		Escalation: EscalationConfig{
			Enabled:    false,
			BusName:    "org.cray.PowerAPI.NodeManager",
			ObjectPath: "/org/cray/PowerAPI/NodeManager",
			Timeout:    5 * time.Second,
		},
		LogLevel:            "info",
		ResourceManagerRole: "resource-manager",
	}
}

// Sentinel validation errors.
var (
	ErrEmptySocketPath    = errors.New("rendezvous.socket_path must not be empty")
	ErrInvalidMaxSessions = errors.New("rendezvous.max_sessions must be positive")
	ErrEmptyPIDFilePath   = errors.New("lifecycle.pidfile_path must not be empty")
	ErrInvalidLogLevel    = errors.New("log_level must be one of debug, info, warn, error")
)

// Load resolves defaults, an optional YAML file at path, and
// POWERAPID_-prefixed environment overrides, then validates the result.
//
//	POWERAPID_RENDEZVOUS_SOCKET_PATH -> rendezvous.socket_path
//	POWERAPID_METRICS_ADDR           -> metrics.addr
//	POWERAPID_LOG_LEVEL              -> log_level
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms POWERAPID_RENDEZVOUS_SOCKET_PATH ->
// rendezvous.socket_path: strips the prefix, lowercases, and replaces the
// _ that follows a section name with .; top-level keys such as log_level
// keep their underscores.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	for _, section := range []string{"rendezvous", "lifecycle", "metrics", "permissions", "escalation"} {
		if rest, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + rest
		}
	}
	return s
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"rendezvous.socket_path":       defaults.Rendezvous.SocketPath,
		"rendezvous.socket_mode":       defaults.Rendezvous.SocketMode,
		"rendezvous.max_sessions":      defaults.Rendezvous.MaxSessions,
		"rendezvous.queue_capacity":    defaults.Rendezvous.QueueCapacity,
		"lifecycle.pidfile_path":       defaults.Lifecycle.PIDFilePath,
		"lifecycle.dirty_marker_path":  defaults.Lifecycle.DirtyMarkerPath,
		"lifecycle.allow_restart_path": defaults.Lifecycle.AllowRestartPath,
		"lifecycle.watchdog_interval":  defaults.Lifecycle.WatchdogInterval.String(),
		"metrics.enabled":              defaults.Metrics.Enabled,
		"metrics.addr":                 defaults.Metrics.Addr,
		"permissions.file_path":        defaults.Permissions.FilePath,
		"permissions.watch_reload":     defaults.Permissions.WatchReload,
		"escalation.enabled":           defaults.Escalation.Enabled,
		"escalation.bus_name":          defaults.Escalation.BusName,
		"escalation.object_path":       defaults.Escalation.ObjectPath,
		"escalation.timeout":           defaults.Escalation.Timeout.String(),
		"log_level":                    defaults.LogLevel,
		"resource_manager_role":        defaults.ResourceManagerRole,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// Validate reports the first configuration error found, if any.
func Validate(cfg *Config) error {
	if cfg.Rendezvous.SocketPath == "" {
		return ErrEmptySocketPath
	}
	if cfg.Rendezvous.MaxSessions <= 0 {
		return ErrInvalidMaxSessions
	}
	if cfg.Lifecycle.PIDFilePath == "" {
		return ErrEmptyPIDFilePath
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidLogLevel, cfg.LogLevel)
	}
	return nil
}

// ParseLogLevel maps a validated LogLevel string to its slog.Level value.
func ParseLogLevel(s string) (int, error) {
	switch s {
	case "debug":
		return -4, nil
	case "info":
		return 0, nil
	case "warn":
		return 4, nil
	case "error":
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: got %q", ErrInvalidLogLevel, s)
	}
}
