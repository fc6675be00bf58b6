// Package config provides the three-layer configuration used by both the
// server and host processes: defaults, then environment variables, then
// functional options, validated once at the end. Grounded on the teacher
// framework's core/config.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a server or host process.
type Config struct {
	Name      string `yaml:"name"`
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	Namespace string `yaml:"namespace"`

	Server     ServerConfig     `yaml:"server"`
	Host       HostConfig       `yaml:"host"`
	Redis      RedisConfig      `yaml:"redis"`
	AI         AIConfig         `yaml:"ai"`
	Capture    CaptureConfig    `yaml:"capture"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Dev        DevConfig        `yaml:"dev"`
}

// ServerConfig configures the stateless API server (spec.md §2, §4.5).
type ServerConfig struct {
	URL               string        `yaml:"url"`
	ProxyTimeout       time.Duration `yaml:"proxy_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	MissedHeartbeats   int           `yaml:"missed_heartbeats"`
}

// HostConfig configures a host agent process (spec.md §2, §4.4).
type HostConfig struct {
	URL               string        `yaml:"url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// RedisConfig backs persistence, discovery, and the AI plan cache index.
type RedisConfig struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"`
}

// AIConfig holds AI-provider credentials (spec.md §6.6); the provider call
// itself is an out-of-scope external collaborator -- this is only what a
// PlanGenerator implementation would need.
type AIConfig struct {
	APIKey string `yaml:"api_key"`
}

// CaptureConfig mirrors spec.md §6.6's HLS_SEGMENT_DURATION so any AV
// capture driver and its audio/video verification helpers agree on window size.
type CaptureConfig struct {
	HLSSegmentDurationSec int `yaml:"hls_segment_duration_sec"`
}

// TelemetryConfig configures the OpenTelemetry exporter.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ResilienceConfig configures internal/resilience.
type ResilienceConfig struct {
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout"`
	RetryMaxAttempts        int           `yaml:"retry_max_attempts"`
	RetryInitialInterval    time.Duration `yaml:"retry_initial_interval"`
}

// DevConfig toggles local development conveniences.
type DevConfig struct {
	Enabled      bool `yaml:"enabled"`
	MockAI       bool `yaml:"mock_ai"`
	MockRedis    bool `yaml:"mock_redis"`
	DebugLogging bool `yaml:"debug_logging"`
}

// Option is a functional configuration option, applied after env loading.
type Option func(*Config) error

// Default returns a Config with sensible, environment-detected defaults.
func Default() *Config {
	cfg := &Config{
		Name:      "virtualpytest",
		Port:      8080,
		Namespace: "default",
		Server: ServerConfig{
			ProxyTimeout:      30 * time.Second,
			PollInterval:      1 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			MissedHeartbeats:  3,
		},
		Host: HostConfig{
			HeartbeatInterval: 10 * time.Second,
		},
		Redis: RedisConfig{
			Namespace: "vpt",
		},
		Capture: CaptureConfig{
			HLSSegmentDurationSec: 2,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Resilience: ResilienceConfig{
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   30 * time.Second,
			RetryMaxAttempts:        3,
			RetryInitialInterval:    1 * time.Second,
		},
	}
	cfg.detectEnvironment()
	return cfg
}

func (c *Config) detectEnvironment() {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		c.Address = "0.0.0.0"
		c.Logging.Format = "json"
		return
	}
	c.Address = "localhost"
	if os.Getenv("VPT_DEV_MODE") == "" {
		c.Dev.Enabled = true
		c.Logging.Format = "text"
	}
}

// LoadFromEnv overlays environment variables per spec.md §6.6, both the
// VPT_*-prefixed framework variables and the spec-named externals
// (SERVER_URL, HOST_URL, HLS_SEGMENT_DURATION, OPENROUTER_API_KEY, ...).
func (c *Config) LoadFromEnv() error {
	// .env support, mirroring the teacher pack's use of godotenv for local dev.
	_ = godotenv.Load()

	if v := os.Getenv("SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("HOST_URL"); v != "" {
		c.Host.URL = v
	}
	if v := os.Getenv("HLS_SEGMENT_DURATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Capture.HLSSegmentDurationSec = n
		}
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("VPT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("VPT_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("VPT_REDIS_URL"); v != "" {
		c.Redis.URL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("VPT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VPT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("VPT_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("VPT_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Server.HeartbeatInterval = d
			c.Host.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("VPT_PROXY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Server.ProxyTimeout = d
		}
	}
	if v := os.Getenv("VPT_DEV_MODE"); v != "" {
		c.Dev.Enabled = parseBool(v)
	}
	if v := os.Getenv("VPT_MOCK_AI"); v != "" {
		c.Dev.MockAI = parseBool(v)
	}
	if v := os.Getenv("VPT_MOCK_REDIS"); v != "" {
		c.Dev.MockRedis = parseBool(v)
	}
	return nil
}

// LoadFromFile loads a YAML config file, overlaying it onto the receiver.
// Completes the teacher framework's JSON-only LoadFromFile (its own
// comment notes YAML support was never added) since yaml.v3 is already a
// direct dependency (see DESIGN.md).
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml config file %s: %w", path, err)
	}
	return nil
}

// Validate checks structural invariants on the configuration.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !c.Dev.MockRedis && c.Redis.URL == "" {
		return fmt.Errorf("redis url is required (or enable dev.mock_redis)")
	}
	return nil
}

// WithName overrides the process name.
func WithName(name string) Option { return func(c *Config) error { c.Name = name; return nil } }

// WithPort overrides the bind port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port: %d", port)
		}
		c.Port = port
		return nil
	}
}

// WithRedisURL overrides the Redis connection URL.
func WithRedisURL(url string) Option {
	return func(c *Config) error { c.Redis.URL = url; return nil }
}

// WithDevMode force-enables/disables development mode.
func WithDevMode(enabled bool) Option {
	return func(c *Config) error { c.Dev.Enabled = enabled; return nil }
}

// WithMockRedis force-enables/disables the in-memory Store fallback,
// bypassing Validate's redis.url requirement.
func WithMockRedis(enabled bool) Option {
	return func(c *Config) error { c.Dev.MockRedis = enabled; return nil }
}

// New assembles a Config from defaults, environment, then options, validating at the end.
func New(opts ...Option) (*Config, error) {
	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
