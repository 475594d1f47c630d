package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the orchestrator configuration, loaded from orchestrator.yaml
// with TALENTPATH_* environment overrides.
type Config struct {
	API struct {
		BaseURL   string `mapstructure:"base_url"`
		Token     string `mapstructure:"token"`
		TimeoutMs int    `mapstructure:"timeout_ms"`
	} `mapstructure:"api"`

	Socket struct {
		URL     string `mapstructure:"url"`
		Enabled bool   `mapstructure:"enabled"`
	} `mapstructure:"socket"`

	Store struct {
		Backend       string `mapstructure:"backend"` // "redis" or "sqlite"
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`
		SQLitePath    string `mapstructure:"sqlite_path"`
	} `mapstructure:"store"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// Load reads the configuration from CONFIG_PATH or ./config/orchestrator.yaml.
// A missing file is not an error; env overrides and defaults still apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TALENTPATH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.timeout_ms", 15000)
	v.SetDefault("socket.enabled", true)
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite_path", "orchestrator.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
	v.SetDefault("logging.level", "info")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/orchestrator.yaml"
	}
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = os.Getenv("TALENTPATH_API_BASE_URL")
	}
	return &c, nil
}

// APITimeout returns the API client timeout as a duration.
func (c *Config) APITimeout() time.Duration {
	if c.API.TimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.API.TimeoutMs) * time.Millisecond
}
