// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the RoomChat service.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	defaultPort              = ":8080"
	defaultMaxMessageSize    = 64 * 1024
	defaultRateLimitBurst    = 10
	defaultRefillInterval    = time.Second
	defaultMaxAttachmentSize = chat.DefaultMaxAttachmentSize
	defaultShutdownTimeout   = 30 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port              string
	AllowedOrigins    []string
	MaxMessageSize    int64
	RateLimit         RateLimitConfig
	Rooms             []string
	MaxAttachmentSize int64
	MaxBodyLength     int
	StrictErrors      bool
	LogLevel          string
	LogSink           string
	ShutdownTimeout   time.Duration
}

// fileConfig is the YAML shape of Config. Byte sizes are strings so that
// "64KB" style values can be used.
type fileConfig struct {
	Port              string          `yaml:"port"`
	AllowedOrigins    []string        `yaml:"allowed_origins"`
	MaxMessageSize    string          `yaml:"max_message_size"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	Rooms             []string        `yaml:"rooms"`
	MaxAttachmentSize string          `yaml:"max_attachment_size"`
	MaxBodyLength     int             `yaml:"max_body_length"`
	StrictErrors      *bool           `yaml:"strict_errors"`
	LogLevel          string          `yaml:"log_level"`
	LogSink           string          `yaml:"log_sink"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout"`
}

var (
	configMu      sync.RWMutex
	activeConfig  Config
	activeOrigins originPolicy
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:5173",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateLimitBurst,
			RefillInterval: defaultRefillInterval,
		},
		Rooms:             []string{chat.DefaultRoom, "random", "tech"},
		MaxAttachmentSize: defaultMaxAttachmentSize,
		MaxBodyLength:     chat.DefaultMaxBodyLength,
		LogLevel:          "info",
		ShutdownTimeout:   defaultShutdownTimeout,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateLimitBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if cfg.MaxAttachmentSize <= 0 {
		cfg.MaxAttachmentSize = defaultMaxAttachmentSize
	}

	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = chat.DefaultMaxBodyLength
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	cfg.Rooms = normalizeRooms(cfg.Rooms)

	policy, normalizedOrigins := newOriginPolicy(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins
	if policy.allowAll {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, "*")
	}

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	activeOrigins = policy

	return cfg
}

// normalizeRooms puts the default room first and drops blanks and duplicates.
func normalizeRooms(rooms []string) []string {
	out := []string{chat.DefaultRoom}
	seen := map[string]struct{}{chat.DefaultRoom: {}}
	for _, room := range rooms {
		room = strings.TrimSpace(room)
		if room == "" {
			continue
		}
		if _, dup := seen[room]; dup {
			continue
		}
		seen[room] = struct{}{}
		out = append(out, room)
	}
	return out
}

// SetConfig applies the provided configuration and returns the sanitized
// result. Passing nil resets to defaults.
func SetConfig(cfg *Config) Config {
	if cfg == nil {
		return sanitizeConfig(defaultConfig())
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitized.Rooms = append([]string(nil), cfg.Rooms...)
	return sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	cfg.Rooms = append([]string(nil), cfg.Rooms...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	ApplyEnv(&cfg)
	return &cfg
}

// LoadConfig builds the effective configuration: defaults, then the YAML
// file at path when path is non-empty, then environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	ApplyEnv(&cfg)
	return &cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if fc.Port != "" {
		cfg.Port = fc.Port
	}
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.MaxMessageSize != "" {
		size, err := parseByteSize(fc.MaxMessageSize)
		if err != nil {
			return fmt.Errorf("config %s: max_message_size: %w", path, err)
		}
		cfg.MaxMessageSize = size
	}
	if fc.RateLimit.Burst > 0 {
		cfg.RateLimit.Burst = fc.RateLimit.Burst
	}
	if fc.RateLimit.RefillInterval > 0 {
		cfg.RateLimit.RefillInterval = fc.RateLimit.RefillInterval
	}
	if len(fc.Rooms) > 0 {
		cfg.Rooms = fc.Rooms
	}
	if fc.MaxAttachmentSize != "" {
		size, err := parseByteSize(fc.MaxAttachmentSize)
		if err != nil {
			return fmt.Errorf("config %s: max_attachment_size: %w", path, err)
		}
		cfg.MaxAttachmentSize = size
	}
	if fc.MaxBodyLength > 0 {
		cfg.MaxBodyLength = fc.MaxBodyLength
	}
	if fc.StrictErrors != nil {
		cfg.StrictErrors = *fc.StrictErrors
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogSink != "" {
		cfg.LogSink = fc.LogSink
	}
	if fc.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = fc.ShutdownTimeout
	}
	return nil
}

// ApplyEnv overrides cfg with any environment variables that are set.
func ApplyEnv(cfg *Config) {
	// Load SERVER_PORT
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = normalizePort(port)
	}

	// Load ALLOWED_ORIGINS
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}

	// CLIENT_URL names the web client's origin and is always allowed
	if clientURL := os.Getenv("CLIENT_URL"); clientURL != "" {
		cfg.AllowedOrigins = append(append([]string(nil), cfg.AllowedOrigins...), clientURL)
	}

	// Load MAX_MESSAGE_SIZE
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	// Load RATE_LIMIT_BURST
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	// Load RATE_LIMIT_REFILL_INTERVAL
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	if rooms := os.Getenv("CHAT_ROOMS"); rooms != "" {
		cfg.Rooms = parseList(rooms)
	}

	if maxSize := os.Getenv("MAX_ATTACHMENT_SIZE"); maxSize != "" {
		cfg.MaxAttachmentSize = parseMaxMessageSize(maxSize, cfg.MaxAttachmentSize)
	}

	if maxBody := os.Getenv("MAX_BODY_LENGTH"); maxBody != "" {
		cfg.MaxBodyLength = parseIntValue(maxBody, cfg.MaxBodyLength)
	}

	if strict := os.Getenv("STRICT_ERRORS"); strict != "" {
		if v, err := strconv.ParseBool(strict); err == nil {
			cfg.StrictErrors = v
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if sink := os.Getenv("LOG_SINK"); sink != "" {
		cfg.LogSink = sink
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}
}

// normalizePort accepts "8080" as well as ":8080" or "host:8080".
func normalizePort(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseByteSize(value string) (int64, error) {
	size, err := humanize.ParseBytes(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if size == 0 || size > 1<<40 {
		return 0, fmt.Errorf("size %q out of range", value)
	}
	return int64(size), nil
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := parseByteSize(value); err == nil {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration reads whole seconds ("5") or a Go duration ("500ms").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
