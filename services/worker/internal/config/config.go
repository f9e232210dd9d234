package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const ConfigPath = "services/worker/config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	LogLevel                 string `yaml:"logLevel"`
	APIBaseURL               string `yaml:"apiBaseUrl"`
	Email                    string `yaml:"email"`
	Password                 string `yaml:"password"`
	RedisAddr                string `yaml:"redisAddr"`
	RedisPassword            string `yaml:"redisPassword"`
	SessionPrefix            string `yaml:"sessionPrefix"`
	QueueStream              string `yaml:"queueStream"`
	QueueGroup               string `yaml:"queueGroup"`
	QueueConcurrency         int    `yaml:"queueConcurrency"`
	QueueMaxRetries          int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds   int    `yaml:"queueRetryDelaySeconds"`
	SubmitRateLimitPerMinute int    `yaml:"submitRateLimitPerMinute"`
	MinioEndpoint            string `yaml:"minioEndpoint"`
	MinioAccessKey           string `yaml:"minioAccessKey"`
	MinioSecretKey           string `yaml:"minioSecretKey"`
	MinioBucket              string `yaml:"minioBucket"`
	MinioUseSSL              bool   `yaml:"minioUseSSL"`
	ArchiveDir               string `yaml:"archiveDir"`
	AMQPURL                  string `yaml:"amqpUrl"`
	AMQPExchange             string `yaml:"amqpExchange"`
}

// Load reads config from path (defaults to ConfigPath) and applies env overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{
		LogLevel:         "info",
		APIBaseURL:       "http://localhost:8080",
		RedisAddr:        "localhost:6379",
		SessionPrefix:    "storybook:worker:session",
		QueueStream:      "storybook:generate",
		QueueGroup:       "storybook-workers",
		QueueConcurrency: 2,
		QueueMaxRetries:  3,
		ArchiveDir:       "data/books",
		AMQPExchange:     "storybook.events",
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
	if v := os.Getenv("WORKER_EMAIL"); v != "" {
		cfg.Email = strings.TrimSpace(v)
	}
	if v := os.Getenv("WORKER_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("WORKER_QUEUE_STREAM"); v != "" {
		cfg.QueueStream = strings.TrimSpace(v)
	}
	if v := os.Getenv("WORKER_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = strings.TrimSpace(v)
	}
	if v := os.Getenv("WORKER_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("WORKER_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("WORKER_QUEUE_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.QueueRetryDelaySeconds = n
		}
	}
	if v := os.Getenv("WORKER_SUBMIT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.SubmitRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("WORKER_ARCHIVE_DIR"); v != "" {
		cfg.ArchiveDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("AMQP_EXCHANGE"); v != "" {
		cfg.AMQPExchange = strings.TrimSpace(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return errors.New("config: apiBaseUrl is required")
	}
	if strings.TrimSpace(cfg.Email) == "" || cfg.Password == "" {
		return errors.New("config: worker email and password are required (set WORKER_EMAIL and WORKER_PASSWORD)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required")
	}
	if strings.TrimSpace(cfg.QueueStream) == "" || strings.TrimSpace(cfg.QueueGroup) == "" {
		return errors.New("config: queueStream and queueGroup are required")
	}
	if cfg.QueueConcurrency <= 0 {
		return errors.New("config: queueConcurrency must be > 0")
	}
	if cfg.QueueMaxRetries < 0 || cfg.QueueRetryDelaySeconds < 0 || cfg.SubmitRateLimitPerMinute < 0 {
		return errors.New("config: queue retries, retry delay and rate limit must be >= 0")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || strings.TrimSpace(cfg.MinioBucket) == "" {
			return errors.New("config: minio access key, secret key and bucket are required with minioEndpoint")
		}
	} else if strings.TrimSpace(cfg.ArchiveDir) == "" {
		return errors.New("config: archiveDir is required without minioEndpoint")
	}
	if strings.TrimSpace(cfg.AMQPURL) != "" && strings.TrimSpace(cfg.AMQPExchange) == "" {
		return errors.New("config: amqpExchange is required with amqpUrl")
	}
	return nil
}
