package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config captures process-level configuration. Values come from an optional
// orchestrator.yaml (CONFIG_PATH) with environment overrides; the env names
// match the deployment surface (HOST, PORT, REDIS_URL, provider keys).
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	RedisURL string `mapstructure:"redis_url"`

	PersonasPath string `mapstructure:"personas_path"`

	Streaming struct {
		IdleTimeout time.Duration `mapstructure:"idle_timeout"`
		Buffer      int           `mapstructure:"buffer"`
	} `mapstructure:"streaming"`

	Summarizer struct {
		ContextLimit int    `mapstructure:"context_limit"`
		KeepRecent   int    `mapstructure:"keep_recent"`
		Model        string `mapstructure:"model"`
	} `mapstructure:"summarizer"`

	Embeddings struct {
		Model    string        `mapstructure:"model"`
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
		MaxLRU   int           `mapstructure:"max_lru"`
	} `mapstructure:"embeddings"`

	Observability struct {
		MetricsPort int    `mapstructure:"metrics_port"`
		LogLevel    string `mapstructure:"log_level"`
	} `mapstructure:"observability"`
}

// Load reads configuration from CONFIG_PATH (optional) and the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgPath := os.Getenv("CONFIG_PATH"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&c)
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("personas_path", "config/personas.yaml")
	v.SetDefault("streaming.idle_timeout", 30*time.Second)
	v.SetDefault("streaming.buffer", 256)
	v.SetDefault("summarizer.context_limit", 3000)
	v.SetDefault("summarizer.keep_recent", 10)
	v.SetDefault("summarizer.model", "gpt-3.5-turbo-16k")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.cache_ttl", time.Hour)
	v.SetDefault("embeddings.max_lru", 2048)
	v.SetDefault("observability.metrics_port", 9090)
	v.SetDefault("observability.log_level", "info")
}

func applyEnvOverrides(c *Config) {
	if h := os.Getenv("HOST"); h != "" {
		c.Host = h
	}
	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			c.Port = n
		}
	}
	if u := os.Getenv("REDIS_URL"); u != "" {
		c.RedisURL = u
	}
	if p := os.Getenv("PERSONAS_PATH"); p != "" {
		c.PersonasPath = p
	}
	if t := os.Getenv("STREAM_IDLE_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil && d > 0 {
			c.Streaming.IdleTimeout = d
		}
	}
	if p := os.Getenv("METRICS_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			c.Observability.MetricsPort = n
		}
	}
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		c.Observability.LogLevel = l
	}
}

// Addr returns the host:port the API server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
