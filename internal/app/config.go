package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the client configuration, loaded from config.yml with a
// LOOM_* environment overlay on top.
type Config struct {
	ServerURL          string `yaml:"server_url" envconfig:"SERVER_URL"`
	Model              string `yaml:"model" envconfig:"MODEL"`
	MaxTokens          int    `yaml:"max_tokens" envconfig:"MAX_TOKENS"`
	TimeoutSeconds     int    `yaml:"timeout_seconds" envconfig:"TIMEOUT_SECONDS"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" envconfig:"RATE_LIMIT_PER_MINUTE"`
	Retries            int    `yaml:"retries" envconfig:"RETRIES"`
	StateDir           string `yaml:"state_dir" envconfig:"STATE_DIR"`
	LogLevel           string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFile            string `yaml:"log_file" envconfig:"LOG_FILE"`
	Theme              string `yaml:"theme" envconfig:"THEME"`
}

func DefaultConfig() Config {
	return Config{
		ServerURL:          "http://localhost:8000",
		Model:              "gpt-3.5-turbo",
		MaxTokens:          500,
		TimeoutSeconds:     30,
		RateLimitPerMinute: 20,
		Retries:            3,
		LogLevel:           "info",
		Theme:              "default",
	}
}

// Timeout returns the per-request deadline.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoadConfig reads the YAML file at path, applies LOOM_* environment
// overrides, then backfills defaults. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process("loom", &cfg); err != nil {
		return cfg, fmt.Errorf("apply env overrides: %w", err)
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8000"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 20
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir()
	}
	if cfg.Theme == "" {
		cfg.Theme = "default"
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "loom", "config.yml")
}

// DefaultStateDir is where the client keeps state.db and logs.
func DefaultStateDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(base, "loom")
}
