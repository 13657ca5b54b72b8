// Package config loads the client's settings from a YAML or TOML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/omochice/bullscows-client/internal/logger"
)

// Transports accepted in Config.Transport.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Environment variables read by ApplyEnv.
const (
	EnvHost     = "BULLSCOWS_HOST"
	EnvPort     = "BULLSCOWS_PORT"
	EnvLogLevel = "BULLSCOWS_LOG_LEVEL"
)

var ErrInvalid = errors.New("config: invalid")

// Config holds the client settings. Durations are whole milliseconds.
type Config struct {
	Host      string `yaml:"host" toml:"host"`
	Port      int    `yaml:"port" toml:"port"`
	Transport string `yaml:"transport" toml:"transport"`
	// Path is the request path for the WebSocket transport.
	Path string `yaml:"path" toml:"path"`

	DialTimeoutMS       int    `yaml:"dial_timeout_ms" toml:"dial_timeout_ms"`
	HandshakeTimeoutMS  int    `yaml:"handshake_timeout_ms" toml:"handshake_timeout_ms"`
	PollIntervalMS      int    `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	HeartbeatIntervalMS int    `yaml:"heartbeat_interval_ms" toml:"heartbeat_interval_ms"`
	HeartbeatPayload    string `yaml:"heartbeat_payload" toml:"heartbeat_payload"`

	// MetricsAddr enables the metrics endpoint when set, e.g. "127.0.0.1:9090".
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"`

	Logging logger.Config `yaml:"logging" toml:"logging"`
}

// Default returns the protocol's standard timings. Host and port have no
// default; the user is asked for them.
func Default() *Config {
	return &Config{
		Transport:           TransportTCP,
		Path:                "/",
		DialTimeoutMS:       5000,
		HandshakeTimeoutMS:  5000,
		PollIntervalMS:      1000,
		HeartbeatIntervalMS: 3000,
		HeartbeatPayload:    "PING",
		Logging:             logger.DefaultConfig(),
	}
}

// Load reads path on top of the defaults. The format follows the extension:
// .yaml/.yml or .toml. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalid, ext)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvHost)); v != "" {
		c.Host = v
	}
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, EnvPort, v)
		}
		c.Port = port
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks everything except the server address, which may still be
// filled in interactively. Use ValidateAddress once it is known.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}

	timings := []struct {
		name  string
		value int
	}{
		{"dial_timeout_ms", c.DialTimeoutMS},
		{"handshake_timeout_ms", c.HandshakeTimeoutMS},
		{"poll_interval_ms", c.PollIntervalMS},
		{"heartbeat_interval_ms", c.HeartbeatIntervalMS},
	}
	for _, tm := range timings {
		if tm.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, tm.name, tm.value)
		}
	}

	if strings.TrimSpace(c.HeartbeatPayload) == "" {
		return fmt.Errorf("%w: heartbeat_payload is empty", ErrInvalid)
	}
	return nil
}

// ValidateAddress checks host and port.
func (c *Config) ValidateAddress() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalid)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalid, c.Port)
	}
	return nil
}

// Address renders what the client dials: host:port for TCP or a ws:// URL.
func (c *Config) Address() string {
	hostport := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	if c.Transport != TransportWebSocket {
		return hostport
	}
	path := c.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + hostport + path
}
