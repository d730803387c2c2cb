package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the board server configuration. Values come from defaults,
// then the optional YAML file, then the environment.
type Config struct {
	Host     string       `yaml:"host"`
	Port     int          `yaml:"port"`
	LogLevel string       `yaml:"log_level"`
	Palette  []string     `yaml:"palette,omitempty"`
	Limits   LimitsConfig `yaml:"limits"`
	Redis    RedisConfig  `yaml:"redis"`
	MDNS     MDNSConfig   `yaml:"mdns"`
}

// LimitsConfig overrides the transport limits in limits.go.
type LimitsConfig struct {
	MaxMessagesPerSecond int           `yaml:"max_messages_per_second"`
	MaxMessageBytes      int64         `yaml:"max_message_bytes"`
	SendBufferSize       int           `yaml:"send_buffer_size"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
}

// RedisConfig enables the event mirror when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// MDNSConfig controls LAN advertisement of the server.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance,omitempty"` // defaults to the hostname
}

// Environment variables read by ApplyEnv.
const (
	EnvPort        = "PORT"
	EnvHost        = "BOARD_HOST"
	EnvLogLevel    = "BOARD_LOG_LEVEL"
	EnvRedisAddr   = "REDIS_ADDR"
	EnvRedisPrefix = "BOARD_REDIS_PREFIX"
	EnvMDNS        = "BOARD_MDNS"
)

// DefaultPort matches the port the browser client expects.
const DefaultPort = 3000

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Host:     "0.0.0.0",
		Port:     DefaultPort,
		LogLevel: "info",
		Limits: LimitsConfig{
			MaxMessagesPerSecond: MaxMessagesPerSecond,
			MaxMessageBytes:      MaxMessageBytes,
			SendBufferSize:       ClientSendBufferSize,
			WriteTimeout:         WriteTimeout,
			PongTimeout:          PongTimeout,
		},
		Redis: RedisConfig{Prefix: "collabboard"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then the process environment. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are fine.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvHost); ok && v != "" {
		c.Host = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Redis.Addr = v
	}
	if v, ok := lookup(EnvRedisPrefix); ok && v != "" {
		c.Redis.Prefix = v
	}
	if v, ok := lookup(EnvMDNS); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", EnvMDNS, v)
		}
		c.MDNS.Enabled = enabled
	}
	return nil
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Validate checks ranges and formats.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	for i, color := range c.Palette {
		if !hexColor.MatchString(color) {
			return fmt.Errorf("palette[%d]: invalid color %q (expected #rrggbb)", i, color)
		}
	}

	l := c.Limits
	if l.MaxMessagesPerSecond < 1 {
		return fmt.Errorf("limits.max_messages_per_second must be >= 1, got %d", l.MaxMessagesPerSecond)
	}
	if l.MaxMessageBytes < 1024 {
		return fmt.Errorf("limits.max_message_bytes must be >= 1024, got %d", l.MaxMessageBytes)
	}
	if l.SendBufferSize < 1 {
		return fmt.Errorf("limits.send_buffer_size must be >= 1, got %d", l.SendBufferSize)
	}
	if l.WriteTimeout <= 0 || l.PongTimeout <= 0 {
		return fmt.Errorf("limits timeouts must be positive")
	}

	if c.Redis.Enabled() && c.Redis.Prefix == "" {
		return fmt.Errorf("redis.prefix is required when redis.addr is set")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q (must be debug, info, warn or error)", c.LogLevel)
	}
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
