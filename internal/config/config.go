package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	AI        AIConfig        `yaml:"ai"`
	Routing   RoutingConfig   `yaml:"routing"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig points at the optional stored-token database.
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPath string `yaml:"metrics_path"`
}

// AuthConfig describes the allowed-token set.
type AuthConfig struct {
	Tokens []string `yaml:"tokens"`
	// TokensRaw holds a JSON array or comma separated list, usually ${API_TOKENS}.
	TokensRaw            string `yaml:"tokens_raw"`
	Debug                bool   `yaml:"debug"`
	AllowAnyTokenInDebug bool   `yaml:"allow_any_token_in_debug"`
}

const defaultDevToken = "dev-token"

// AllowedTokens merges Tokens and TokensRaw. An empty result yields the development token.
func (a AuthConfig) AllowedTokens() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}

	for _, t := range a.Tokens {
		add(t)
	}
	raw := strings.TrimSpace(a.TokensRaw)
	if raw != "" {
		var list []string
		if strings.HasPrefix(raw, "[") && json.Unmarshal([]byte(raw), &list) == nil {
			for _, t := range list {
				add(t)
			}
		} else {
			for _, t := range strings.Split(raw, ",") {
				add(t)
			}
		}
	}

	if len(out) == 0 {
		out = []string{defaultDevToken}
	}
	return out
}

// PermissiveAuth reports whether any non-empty token should be accepted.
func (a AuthConfig) PermissiveAuth() bool {
	return a.Debug && a.AllowAnyTokenInDebug
}

type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int64         `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type AIConfig struct {
	DefaultProvider  string `yaml:"default_provider"`
	FallbackProvider string `yaml:"fallback_provider"`
	DefaultAlias     string `yaml:"default_alias"`
	StreamEnabled    bool   `yaml:"stream_enabled"`
	MaxOutputTokens  int    `yaml:"max_output_tokens"`
	// AliasesJSON overrides aliases.yaml entries, usually ${AI_MODEL_ALIASES}.
	AliasesJSON string `yaml:"aliases_json"`
}

type RoutingConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	// FailureThreshold of 0 disables breakers.
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type WebSocketConfig struct {
	ReadLimit      int64         `yaml:"read_limit"`
	PingPeriod     time.Duration `yaml:"ping_period"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	SendBuffer     int           `yaml:"send_buffer"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "persona",
			User:            "persona",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPath: "/metrics",
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 100,
			Window:   60 * time.Second,
		},
		AI: AIConfig{
			DefaultProvider: "doubao",
			StreamEnabled:   true,
			MaxOutputTokens: 1024,
		},
		Routing: RoutingConfig{
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      0,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		WebSocket: WebSocketConfig{
			ReadLimit:    64 * 1024,
			PingPeriod:   30 * time.Second,
			WriteTimeout: 10 * time.Second,
			SendBuffer:   64,
		},
	}
}
