package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const ConfigPath = "services/storyctl/config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	LogLevel      string `yaml:"logLevel"`
	APIBaseURL    string `yaml:"apiBaseUrl"`
	StateDSN      string `yaml:"stateDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	QueueStream   string `yaml:"queueStream"`
}

// Load reads config from path (defaults to ConfigPath) and applies env overrides.
// Local state lives in a SQLite file next to the working directory unless
// stateDsn points somewhere else (a postgres:// DSN is also accepted).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{
		LogLevel:    "warn",
		APIBaseURL:  "http://localhost:8080",
		StateDSN:    "storyctl.db",
		RedisAddr:   "localhost:6379",
		QueueStream: "storybook:generate",
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("STORYBOOK_API_URL"); v != "" {
		cfg.APIBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STORYCTL_STATE_DSN"); v != "" {
		cfg.StateDSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("STORYCTL_QUEUE_STREAM"); v != "" {
		cfg.QueueStream = strings.TrimSpace(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		return errors.New("config: apiBaseUrl is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return errors.New("config: apiBaseUrl must start with http:// or https://")
	}
	if strings.TrimSpace(cfg.StateDSN) == "" {
		return errors.New("config: stateDsn is required")
	}
	return nil
}
