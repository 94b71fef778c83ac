// Package config loads and validates the server's YAML configuration
// file, per spec.md §6. Load first loads a .env file into the process
// environment via godotenv; no configuration field is read from the
// environment.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NetworkMode selects which transport(s) the listener serves.
type NetworkMode string

const (
	NetworkModeUDP  NetworkMode = "udp"
	NetworkModeTCP  NetworkMode = "tcp"
	NetworkModeBoth NetworkMode = "both"
)

// AuthorizationKind selects how peer credentials are validated.
type AuthorizationKind string

const (
	AuthorizationKindNone     AuthorizationKind = "none"
	AuthorizationKindStatic   AuthorizationKind = "static"
	AuthorizationKindDatabase AuthorizationKind = "database"
)

// DatabaseConfig configures the backing store used when
// Authorization.Kind is "database".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthorizationConfig controls peer login enforcement.
type AuthorizationConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Kind        AuthorizationKind `yaml:"kind"`
	Database    DatabaseConfig    `yaml:"database"`
	MaxAttempts int               `yaml:"maxAttempts"`
}

// ClusterConfig controls multi-node peer exchange.
type ClusterConfig struct {
	Enabled         bool `yaml:"enabled"`
	AllowUnverified bool `yaml:"allowUnverified"`
	MaxPeers        int  `yaml:"maxPeers"`
}

// NetworkConfig controls which transports are served and their limits.
type NetworkConfig struct {
	Mode           NetworkMode `yaml:"mode"`
	MaxConnections int         `yaml:"maxConnections"`
}

// Config is the root configuration document, per spec.md §6.
type Config struct {
	Port          int                 `yaml:"port"`
	LogLevel      string              `yaml:"logLevel"`
	Development   bool                `yaml:"development"`
	Cluster       ClusterConfig       `yaml:"cluster"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Network       NetworkConfig       `yaml:"network"`
}

// DefaultPort is the server's default UDP/TCP listen port, per
// spec.md §6.
const DefaultPort = 24833

// Default returns a Config populated with spec.md §6's defaults.
func Default() *Config {
	return &Config{
		Port:     DefaultPort,
		LogLevel: "info",
		Cluster: ClusterConfig{
			Enabled:         false,
			AllowUnverified: false,
			MaxPeers:        64,
		},
		Authorization: AuthorizationConfig{
			Enabled:     false,
			Kind:        AuthorizationKindNone,
			MaxAttempts: 3,
		},
		Network: NetworkConfig{
			Mode:           NetworkModeBoth,
			MaxConnections: 4096,
		},
	}
}

// Load reads .env (if present, via godotenv — missing is not an
// error) then parses the YAML file at path over top of Default().
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations spec.md §6 disallows, collecting
// every violation found rather than stopping at the first so a
// misconfigured deploy gets one complete error report.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Port <= 0 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("config: invalid port %d", c.Port))
	}
	switch c.Network.Mode {
	case NetworkModeUDP, NetworkModeTCP, NetworkModeBoth:
	default:
		result = multierror.Append(result, fmt.Errorf("config: invalid network.mode %q", c.Network.Mode))
	}
	if c.Authorization.Enabled {
		switch c.Authorization.Kind {
		case AuthorizationKindStatic, AuthorizationKindDatabase:
		default:
			result = multierror.Append(result, fmt.Errorf("config: authorization enabled with invalid kind %q", c.Authorization.Kind))
		}
		if c.Authorization.Kind == AuthorizationKindDatabase && c.Authorization.Database.Driver == "" {
			result = multierror.Append(result, fmt.Errorf("config: authorization.database.driver required for database kind"))
		}
	}
	if c.Cluster.MaxPeers < 0 {
		result = multierror.Append(result, fmt.Errorf("config: cluster.maxPeers must be non-negative"))
	}

	return result.ErrorOrNil()
}
