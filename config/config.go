// Package config holds all runtime configuration, loaded from environment
// variables with sane defaults.
package config

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var AppVersion = "v2.0.0"

// Config is the full application configuration.
type Config struct {
	App        AppConfig
	Providers  ProvidersConfig
	Cache      CacheConfig
	Context    ContextConfig
	Valkey     ValkeyConfig
	WorkerPool WorkerPoolConfig
	Prompt     PromptConfig
}

type AppConfig struct {
	Port               string
	Debug              bool
	BasePath           string
	CorsAllowedOrigins []string
}

type ProvidersConfig struct {
	Default      string
	Timeout      time.Duration
	Temperature  float64
	MaxTokens    int
	HistoryTurns int

	OpenAIAPIKey string
	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string
}

type CacheConfig struct {
	TTL               time.Duration
	MaxEntries        int
	ExtraSkipPatterns []string
}

type ContextConfig struct {
	MaxMessages int
	TokenBudget int
	MaxAge      time.Duration
}

type ValkeyConfig struct {
	Enabled   bool
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

type PromptConfig struct {
	SystemPrompt string
	// Templates maps template IDs to bodies with {{variable}} placeholders.
	// Loaded from RESPONSE_TEMPLATES as a JSON object.
	Templates map[string]string
}

// Global provides access to the loaded configuration.
var Global *Config

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("app_port", "3000")
	v.SetDefault("app_debug", false)
	v.SetDefault("app_base_path", "")
	v.SetDefault("app_cors_allowed_origins", "http://localhost:3000,http://localhost:5173")

	v.SetDefault("provider_default", "openai")
	v.SetDefault("provider_timeout_seconds", 30)
	v.SetDefault("provider_temperature", 0.7)
	v.SetDefault("provider_max_tokens", 1024)
	v.SetDefault("provider_history_turns", 20)
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("gemini_model", "gemini-2.5-flash")

	v.SetDefault("cache_ttl_seconds", 300)
	v.SetDefault("cache_max_entries", 500)

	v.SetDefault("context_max_messages", 50)
	v.SetDefault("context_token_budget", 8000)
	v.SetDefault("context_max_age_hours", 12)

	v.SetDefault("valkey_enabled", false)
	v.SetDefault("valkey_address", "localhost:6379")
	v.SetDefault("valkey_db", 0)
	v.SetDefault("valkey_key_prefix", "pupai")

	v.SetDefault("message_worker_pool_size", 20)
	v.SetDefault("message_worker_queue_size", 1000)

	v.SetDefault("system_prompt", "You are pup.ai, a concise and friendly chat assistant.")

	cfg := &Config{
		App: AppConfig{
			Port:               v.GetString("app_port"),
			Debug:              v.GetBool("app_debug"),
			BasePath:           v.GetString("app_base_path"),
			CorsAllowedOrigins: splitList(v.GetString("app_cors_allowed_origins")),
		},
		Providers: ProvidersConfig{
			Default:      v.GetString("provider_default"),
			Timeout:      time.Duration(v.GetInt("provider_timeout_seconds")) * time.Second,
			Temperature:  v.GetFloat64("provider_temperature"),
			MaxTokens:    v.GetInt("provider_max_tokens"),
			HistoryTurns: v.GetInt("provider_history_turns"),
			OpenAIAPIKey: v.GetString("openai_api_key"),
			OpenAIModel:  v.GetString("openai_model"),
			GeminiAPIKey: v.GetString("gemini_api_key"),
			GeminiModel:  v.GetString("gemini_model"),
		},
		Cache: CacheConfig{
			TTL:               time.Duration(v.GetInt("cache_ttl_seconds")) * time.Second,
			MaxEntries:        v.GetInt("cache_max_entries"),
			ExtraSkipPatterns: splitList(v.GetString("cache_extra_skip_patterns")),
		},
		Context: ContextConfig{
			MaxMessages: v.GetInt("context_max_messages"),
			TokenBudget: v.GetInt("context_token_budget"),
			MaxAge:      time.Duration(v.GetInt("context_max_age_hours")) * time.Hour,
		},
		Valkey: ValkeyConfig{
			Enabled:   v.GetBool("valkey_enabled"),
			Address:   v.GetString("valkey_address"),
			Password:  v.GetString("valkey_password"),
			DB:        v.GetInt("valkey_db"),
			KeyPrefix: v.GetString("valkey_key_prefix"),
		},
		WorkerPool: WorkerPoolConfig{
			Size:      v.GetInt("message_worker_pool_size"),
			QueueSize: v.GetInt("message_worker_queue_size"),
		},
		Prompt: PromptConfig{
			SystemPrompt: v.GetString("system_prompt"),
			Templates:    parseTemplates(v.GetString("response_templates")),
		},
	}

	Global = cfg
	return cfg, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseTemplates(raw string) map[string]string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var templates map[string]string
	if err := json.Unmarshal([]byte(raw), &templates); err != nil {
		return nil
	}
	return templates
}
