package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string

	LLMProvider   string
	Model         string
	OpenAIBaseURL string
	LLMTimeout    time.Duration

	ChatMaxTokens      int
	ChatTokenBudget    int
	ChatRenderMarkdown bool
	PromptsFile        string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	DatabaseURL string
	NatsURL     string
	NatsToken   string

	// NatsMaxReconnects < 0 retries forever.
	NatsConnectTimeout time.Duration
	NatsMaxReconnects  int
	NatsReconnectWait  time.Duration
}

func Load() Config {
	return Config{
		Port:               envInt("INSIGHT_PORT", 8760),
		LogLevel:           envStr("LOG_LEVEL", "info"),
		LLMProvider:        strings.ToLower(envStr("LLM_PROVIDER", "openai")),
		Model:              envStr("INSIGHT_MODEL", ""),
		OpenAIBaseURL:      envStr("OPENAI_BASE_URL", ""),
		LLMTimeout:         envDuration("LLM_TIMEOUT", 120*time.Second),
		ChatMaxTokens:      envInt("CHAT_MAX_TOKENS", 0),
		ChatTokenBudget:    envInt("CHAT_TOKEN_BUDGET", 0),
		ChatRenderMarkdown: envBool("CHAT_RENDER_MARKDOWN", true),
		PromptsFile:        envStr("PROMPTS_FILE", ""),
		RedisAddr:          envStr("REDIS_ADDR", ""),
		RedisPassword:      envStr("REDIS_PASSWORD", ""),
		RedisDB:            envInt("REDIS_DB", 0),
		CacheTTL:           envDuration("CACHE_TTL", 24*time.Hour),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		NatsURL:            envStr("NATS_URL", ""),
		NatsToken:          envStr("NATS_TOKEN", ""),
		NatsConnectTimeout: envDuration("NATS_CONNECT_TIMEOUT", 5*time.Second),
		NatsMaxReconnects:  envInt("NATS_MAX_RECONNECTS", 60),
		NatsReconnectWait:  envDuration("NATS_RECONNECT_WAIT", 2*time.Second),
	}
}

// CredentialName is the environment variable holding the API key for the
// configured provider.
func (c Config) CredentialName() string {
	switch c.LLMProvider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return "OPENAI_API_KEY"
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
		if n, err := strconv.Atoi(v); err == nil {
			return n
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
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
