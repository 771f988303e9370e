// Package config loads, validates and saves the lamp-panel YAML settings.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends understood by nvs.Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

const (
	// DefaultConfigFilename is used when no --config flag is given.
	DefaultConfigFilename = "lamp-panel.yaml"

	DefaultHTTPAddr  = ":80"
	DefaultAdminAddr = ":9100"
	DefaultLogLevel  = "info"

	DefaultStorePath      = "lamp-state.yaml"
	DefaultStoreNamespace = "storage"

	DefaultChip     = "gpiochip0"
	DefaultGreenPin = 16
	DefaultRedPin   = 17

	DefaultDriveTimeout   = 500 * time.Millisecond
	DefaultPersistTimeout = 2 * time.Second

	DefaultMQTTClientID = "lamp-panel"

	// DefaultFilePermissions applies to settings and record files.
	DefaultFilePermissions = 0o600
)

var (
	errConfigIsNotSet   = errors.New("configuration is not set")
	errUnknownBackend   = errors.New("unknown store backend")
	errStorePathMissing = errors.New("store path must be provided")
	errInvalidPin       = errors.New("gpio pin must not be negative")
	errSamePins         = errors.New("green and red lamps must use different pins")
)

// Config is the full process configuration.
type Config struct {
	// HTTPAddr is the lamp page listener.
	HTTPAddr string `yaml:"http_addr"`
	// AdminAddr serves /metrics and /status.json. Empty disables it.
	AdminAddr string `yaml:"admin_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string   `yaml:"log_level"`
	Store    Store    `yaml:"store"`
	GPIO     GPIO     `yaml:"gpio"`
	Timeouts Timeouts `yaml:"timeouts"`
	MQTT     MQTT     `yaml:"mqtt"`
}

// Store selects the non-volatile record backend.
type Store struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// GPIO names the output chip and BCM line offsets of the two lamps.
type GPIO struct {
	Chip     string `yaml:"chip"`
	GreenPin int    `yaml:"green_pin"`
	RedPin   int    `yaml:"red_pin"`
}

// Timeouts bound the two blocking writes of a toggle.
type Timeouts struct {
	Drive   time.Duration `yaml:"drive"`
	Persist time.Duration `yaml:"persist"`
}

// MQTT configures event publishing. An empty Broker disables it.
type MQTT struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		HTTPAddr:  DefaultHTTPAddr,
		AdminAddr: DefaultAdminAddr,
		GPIO: GPIO{
			GreenPin: DefaultGreenPin,
			RedPin:   DefaultRedPin,
		},
	}
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from path. A missing file at the default path
// yields Default(); a missing file anywhere else is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigFilename {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills unset fields with defaults and rejects invalid values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}

	if _, _, err := net.SplitHostPort(cfg.HTTPAddr); err != nil {
		return fmt.Errorf("invalid http address: %w", err)
	}

	if cfg.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.AdminAddr); err != nil {
			return fmt.Errorf("invalid admin address: %w", err)
		}
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if err := validateStore(&cfg.Store); err != nil {
		return err
	}

	if err := validateGPIO(&cfg.GPIO); err != nil {
		return err
	}

	if cfg.Timeouts.Drive <= 0 {
		cfg.Timeouts.Drive = DefaultDriveTimeout
	}

	if cfg.Timeouts.Persist <= 0 {
		cfg.Timeouts.Persist = DefaultPersistTimeout
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultMQTTClientID
	}

	return nil
}

func validateStore(s *Store) error {
	if s.Backend == "" {
		s.Backend = BackendFile
	}

	if s.Namespace == "" {
		s.Namespace = DefaultStoreNamespace
	}

	switch s.Backend {
	case BackendMemory:
		return nil
	case BackendFile, BackendSQLite:
		if s.Path == "" {
			if s.Backend == BackendSQLite {
				return errStorePathMissing
			}

			s.Path = DefaultStorePath
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, s.Backend)
	}
}

func validateGPIO(g *GPIO) error {
	if g.Chip == "" {
		g.Chip = DefaultChip
	}

	if g.GreenPin < 0 || g.RedPin < 0 {
		return errInvalidPin
	}

	if g.GreenPin == g.RedPin {
		return errSamePins
	}

	return nil
}
