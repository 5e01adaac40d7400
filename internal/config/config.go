// Package config loads gateway configuration from an optional YAML file
// layered under PXP_-prefixed environment variables, with defaults applied
// before unmarshal. Environment keys map underscores to dots, so
// PXP_SERVER_PORT overrides server.port.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	CORS       CORSConfig       `koanf:"cors"`
	Limits     LimitsConfig     `koanf:"limits"`
	Sanitize   SanitizeConfig   `koanf:"sanitize"`
	DataSource DataSourceConfig `koanf:"datasource"`
	Chat       ChatConfig       `koanf:"chat"`
	Cache      CacheConfig      `koanf:"cache"`
	Trace      TraceConfig      `koanf:"trace"`
}

type ServerConfig struct {
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

type CORSConfig struct {
	// Origins is the explicit allow-list. Same-origin requests (no Origin
	// header) are always allowed; the first entry is the reflected value
	// for origins not on the list.
	Origins []string `koanf:"origins"`
}

// LimitConfig is one route class's quota.
type LimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

type LimitsConfig struct {
	Chat    LimitConfig `koanf:"chat"`
	Search  LimitConfig `koanf:"search"`
	Default LimitConfig `koanf:"default"`
}

type SanitizeConfig struct {
	SearchMinLen   int `koanf:"searchmin"`
	SearchMaxLen   int `koanf:"searchmax"`
	SearchMaxTerms int `koanf:"searchterms"`
	ChatMaxLen     int `koanf:"chatmax"`
}

type DataSourceConfig struct {
	URL     string        `koanf:"url"`
	APIKey  string        `koanf:"apikey"`
	Table   string        `koanf:"table"`
	Timeout time.Duration `koanf:"timeout"`
}

type ChatConfig struct {
	// Keys is the primary provider's comma-separated API key list; calls
	// rotate through it round-robin.
	Keys          string        `koanf:"keys"`
	BaseURL       string        `koanf:"baseurl"`
	Model         string        `koanf:"model"`
	FallbackKey   string        `koanf:"fallbackkey"`
	FallbackURL   string        `koanf:"fallbackurl"`
	FallbackModel string        `koanf:"fallbackmodel"`
	MaxTokens     int           `koanf:"maxtokens"`
	Temperature   float32       `koanf:"temperature"`
	Timeout       time.Duration `koanf:"timeout"`
}

type CacheConfig struct {
	Size int           `koanf:"size"`
	TTL  time.Duration `koanf:"ttl"`
}

type TraceConfig struct {
	// SampleRate is the fraction of freshly generated traces that are
	// recorded. Traces with a sampled inbound parent are always kept.
	SampleRate float64 `koanf:"samplerate"`
	// Stdout enables the stdout span exporter alongside the in-memory
	// span buffer, for development.
	Stdout bool `koanf:"stdout"`
}

// Load reads configuration. A config file path may be passed explicitly;
// otherwise config.yaml is used when present.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	applyDefaults(k)

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("PXP_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "PXP_")), "_", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":    8080,
		"server.timeout": "25s",

		"limits.chat.requests":    20,
		"limits.chat.window":      "60s",
		"limits.search.requests":  60,
		"limits.search.window":    "60s",
		"limits.default.requests": 30,
		"limits.default.window":   "60s",

		"sanitize.searchmin":   2,
		"sanitize.searchmax":   500,
		"sanitize.searchterms": 8,
		"sanitize.chatmax":     1000,

		"datasource.table":   "questions",
		"datasource.timeout": "5s",

		"chat.baseurl":       "https://api.openai.com/v1",
		"chat.model":         "gpt-4o-mini",
		"chat.fallbackurl":   "https://api.deepseek.com/v1",
		"chat.fallbackmodel": "deepseek-chat",
		"chat.maxtokens":     600,
		"chat.temperature":   0.7,
		"chat.timeout":       "20s",

		"cache.size": 1000,
		"cache.ttl":  "60s",

		"trace.samplerate": 0.1,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.DataSource.URL != "" && !strings.HasPrefix(c.DataSource.URL, "http") {
		return errors.New("datasource.url must be an http(s) URL")
	}
	if c.Trace.SampleRate < 0 || c.Trace.SampleRate > 1 {
		return errors.New("trace.samplerate must be between 0 and 1")
	}
	return nil
}
