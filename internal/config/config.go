package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`

	// Admission limits.
	LockTimeoutSeconds int `json:"lock_timeout_seconds"`
	MaxConversations   int `json:"max_conversations"`
	EvictionMarginPct  int `json:"eviction_margin_pct"`
	DedupMaxAgeSeconds int `json:"dedup_max_age_seconds"`
	MaxPayloadLength   int `json:"max_payload_length"`
	MaxConcurrent      int `json:"max_concurrent"`
	StatSampleCap      int `json:"stat_sample_cap"`
	MaxStages          int `json:"max_stages"`

	// SweepSchedule is a cron expression (with optional seconds field)
	// for the background maintenance pass.
	SweepSchedule string `json:"sweep_schedule"`

	// Persistence selects the session store driver: file, redis, or memory.
	Persistence string `json:"persistence"`

	LLM struct {
		Provider         string  `json:"provider"`
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
	} `json:"llm"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
		TTLHours int    `json:"ttl_hours"`
	} `json:"redis"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
}

func Load(path string) (*Config, error) {
	// .env is optional; real env vars still win below.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".convogate"),
		LogLevel: "info",

		LockTimeoutSeconds: 30,
		MaxConversations:   1000,
		EvictionMarginPct:  10,
		DedupMaxAgeSeconds: 600,
		MaxPayloadLength:   8000,
		MaxConcurrent:      4,
		StatSampleCap:      500,
		MaxStages:          16,

		SweepSchedule: "0 */5 * * * *",
		Persistence:   "file",
	}
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.TTLHours = 24
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = ":8080"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}

	return cfg, nil
}

// LockTimeout returns the admission lock bound as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// DedupMaxAge returns the fingerprint staleness bound as a duration.
func (c *Config) DedupMaxAge() time.Duration {
	return time.Duration(c.DedupMaxAgeSeconds) * time.Second
}

// RedisTTL returns the session expiry for the redis driver.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLHours) * time.Hour
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
