package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the leadgate service.
type Config struct {
	Port      int
	Version   string
	LogLevel  string
	Database  DatabaseConfig
	Memory    MemoryConfig
	LLM       LLMConfig
	Agent     AgentConfig
	Guardrail GuardrailConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Notify    NotifyConfig
}

type DatabaseConfig struct {
	// URL empty means the in-memory store is used.
	URL            string
	MaxConnections int
	DataDir        string
}

type MemoryConfig struct {
	// RedisURL empty means company memory lives in-process.
	RedisURL  string
	TTL       time.Duration
	KeyPrefix string
	MaxBytes  int64
}

type LLMConfig struct {
	Provider    string // none | openai | anthropic
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

type AgentConfig struct {
	LLMTimeout    time.Duration
	MemoryTimeout time.Duration
	ToolTimeout   time.Duration
}

type GuardrailConfig struct {
	PolicyPath string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	// SampleRatio is the fraction of root spans kept, in [0, 1].
	SampleRatio  float64
}

// NotifyConfig configures the reviewer webhook. An empty URL disables it.
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
	Timeout       time.Duration
}

type AuthConfig struct {
	// Comma-separated API keys; empty disables auth.
	APIKeys string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present; real
// environment variables always win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to parse .env file")
	}

	return &Config{
		Port:     envInt("LEADGATE_PORT", 8080),
		Version:  envStr("LEADGATE_VERSION", "0.1.0"),
		LogLevel: envStr("LEADGATE_LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 10),
			DataDir:        envStr("LEADGATE_DATA_DIR", ""),
		},
		Memory: MemoryConfig{
			RedisURL:  envStr("REDIS_URL", ""),
			TTL:       envDuration("MEMORY_TTL", 90*24*time.Hour),
			KeyPrefix: envStr("MEMORY_KEY_PREFIX", "company:"),
			MaxBytes:  int64(envInt("MEMORY_MAX_BYTES", 64<<20)),
		},
		LLM: LLMConfig{
			Provider:    envStr("LLM_PROVIDER", "none"),
			Endpoint:    envStr("LLM_ENDPOINT", ""),
			APIKey:      envStr("LLM_API_KEY", ""),
			Model:       envStr("LLM_MODEL", "gemini-2.0-flash"),
			Temperature: envFloat("LLM_TEMPERATURE", 0),
			MaxTokens:   envInt("LLM_MAX_TOKENS", 1000),
		},
		Agent: AgentConfig{
			LLMTimeout:    envDuration("LLM_TIMEOUT", 10*time.Second),
			MemoryTimeout: envDuration("MEMORY_TIMEOUT", 500*time.Millisecond),
			ToolTimeout:   envDuration("TOOL_TIMEOUT", 5*time.Second),
		},
		Guardrail: GuardrailConfig{
			PolicyPath: envStr("GUARDRAIL_POLICY_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "leadgate"),
			SampleRatio:  envFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		Auth: AuthConfig{
			APIKeys: envStr("LEADGATE_API_KEYS", ""),
		},
		Notify: NotifyConfig{
			WebhookURL:    envStr("APPROVAL_WEBHOOK_URL", ""),
			WebhookSecret: envStr("APPROVAL_WEBHOOK_SECRET", ""),
			Timeout:       envDuration("APPROVAL_WEBHOOK_TIMEOUT", 10*time.Second),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
	}
	return fallback
}
