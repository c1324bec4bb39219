package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jasonrowsell/dualkv/internal/logging"
)

// Transport selection
const (
	TransportTCP  = "tcp"
	TransportUDP  = "udp"
	TransportBoth = "both"
)

// Config is the server configuration.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Transport      string        `yaml:"transport"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	LogLevel       string        `yaml:"log_level"`
	LogJSON        bool          `yaml:"log_json"`
	ConnTimeout    time.Duration `yaml:"conn_timeout"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	MaxSessions    int           `yaml:"max_sessions"`
}

// Default returns the built-in configuration. Port has no default and
// must be supplied.
func Default() *Config {
	return &Config{
		Host:           "127.0.0.1",
		Transport:      TransportBoth,
		LogLevel:       "info",
		ConnTimeout:    30 * time.Second,
		SessionTimeout: 10 * time.Second,
		MaxSessions:    4096,
	}
}

// Load starts from Default, overlays the YAML file at path (if path is
// non-empty) and then environment overrides. It does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets DUALKV_* variables override file values.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DUALKV_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("DUALKV_PORT"); v != "" {
		port, err := ParsePort(v)
		if err != nil {
			return fmt.Errorf("invalid DUALKV_PORT value: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DUALKV_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("DUALKV_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("DUALKV_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DUALKV_LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DUALKV_LOG_JSON value: %w", err)
		}
		cfg.LogJSON = b
	}
	if v := os.Getenv("DUALKV_CONN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DUALKV_CONN_TIMEOUT value: %w", err)
		}
		cfg.ConnTimeout = d
	}
	if v := os.Getenv("DUALKV_SESSION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DUALKV_SESSION_TIMEOUT value: %w", err)
		}
		cfg.SessionTimeout = d
	}
	if v := os.Getenv("DUALKV_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DUALKV_MAX_SESSIONS value: %w", err)
		}
		cfg.MaxSessions = n
	}
	return nil
}

// ParsePort parses a decimal port number in 1..65535.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port %q is not a number", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// Validate rejects any configuration the server cannot start with.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port is required and must be in range 1-65535 (got %d)", c.Port)
	}
	switch c.Transport {
	case TransportTCP, TransportUDP, TransportBoth:
	default:
		return fmt.Errorf("transport must be one of tcp, udp, both (got %q)", c.Transport)
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.ConnTimeout < 0 {
		return fmt.Errorf("conn_timeout must not be negative")
	}
	if c.SessionTimeout < 0 {
		return fmt.Errorf("session_timeout must not be negative")
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be positive (got %d)", c.MaxSessions)
	}
	return nil
}

// Addr returns host:port for both listeners.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServesTCP reports whether the TCP listener is enabled.
func (c *Config) ServesTCP() bool {
	return c.Transport == TransportTCP || c.Transport == TransportBoth
}

// ServesUDP reports whether the UDP socket is enabled.
func (c *Config) ServesUDP() bool {
	return c.Transport == TransportUDP || c.Transport == TransportBoth
}
