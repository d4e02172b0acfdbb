package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName         string
	AppEnv          string
	AppPort         string
	RedisURL        string
	DatabaseURL     string
	NATSURL         string
	APIKeys         []string
	OpenAIAPIKey    string
	TextModel       string
	VisionModel     string
	MaxRetries      int
	BackoffBase     time.Duration
	Temperature     float32
	MaxTokens       int
	CacheTTL        time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MARKR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Markr API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("ai.text_model", "gpt-4o-mini")
	v.SetDefault("ai.vision_model", "gpt-4o")
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.backoff_base_ms", 750)
	v.SetDefault("ai.temperature", 0.0)
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("rate_limit.max", 30)
	v.SetDefault("rate_limit.window", "1m")

	ttl, err := time.ParseDuration(v.GetString("cache.ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid cache ttl: %w", err)
	}

	window, err := time.ParseDuration(v.GetString("rate_limit.window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid rate limit window: %w", err)
	}

	backoffMs := v.GetInt("ai.backoff_base_ms")
	if backoffMs <= 0 {
		backoffMs = 750
	}

	cfg := Config{
		AppName:         v.GetString("app.name"),
		AppEnv:          v.GetString("app.env"),
		AppPort:         v.GetString("app.port"),
		RedisURL:        v.GetString("redis.url"),
		DatabaseURL:     v.GetString("database.url"),
		NATSURL:         v.GetString("nats.url"),
		APIKeys:         splitKeys(v.GetString("api_keys")),
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		TextModel:       v.GetString("ai.text_model"),
		VisionModel:     v.GetString("ai.vision_model"),
		MaxRetries:      v.GetInt("ai.max_retries"),
		BackoffBase:     time.Duration(backoffMs) * time.Millisecond,
		Temperature:     float32(v.GetFloat64("ai.temperature")),
		MaxTokens:       v.GetInt("ai.max_tokens"),
		CacheTTL:        ttl,
		RateLimitMax:    v.GetInt("rate_limit.max"),
		RateLimitWindow: window,
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("openai api key must be provided")
	}

	if len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("at least one service api key must be provided")
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return cfg, nil
}

func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}
