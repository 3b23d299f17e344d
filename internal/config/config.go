package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the redactor server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Pipeline PipelineConfig
	Worker   WorkerConfig
	Callback CallbackConfig
	Redact   RedactConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type PipelineConfig struct {
	SpecPath string
}

type WorkerConfig struct {
	Count          int
	Lease          time.Duration
	MaxAttempts    int
	ReaperInterval time.Duration
}

type CallbackConfig struct {
	Timeout    time.Duration
	MaxElapsed time.Duration
}

// RedactConfig configures the LLM-backed redact stage. APIKey is required
// only when the loaded pipeline uses the openai backend.
type RedactConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("REDACTOR_PORT", 8080),
			Env:  envString("REDACTOR_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Pipeline: PipelineConfig{
			SpecPath: envString("PIPELINE_SPEC_PATH", "config/pipeline.yaml"),
		},
		Worker: WorkerConfig{
			Count:          envInt("WORKER_COUNT", 4),
			Lease:          envDuration("WORKER_LEASE", 5*time.Minute),
			MaxAttempts:    envInt("WORKER_MAX_ATTEMPTS", 3),
			ReaperInterval: envDuration("WORKER_REAPER_INTERVAL", 30*time.Second),
		},
		Callback: CallbackConfig{
			Timeout:    envDuration("CALLBACK_TIMEOUT", 30*time.Second),
			MaxElapsed: envDuration("CALLBACK_MAX_ELAPSED", 5*time.Minute),
		},
		Redact: RedactConfig{
			APIKey:            os.Getenv("OPENAI_API_KEY"),
			BaseURL:           os.Getenv("OPENAI_BASE_URL"),
			Model:             envString("OPENAI_MODEL", "gpt-4o-mini"),
			RequestsPerMinute: envInt("OPENAI_REQUESTS_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Pipeline.SpecPath == "" {
		return fmt.Errorf("PIPELINE_SPEC_PATH is required")
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.Worker.Count)
	}
	if c.Worker.Lease < time.Second {
		return fmt.Errorf("WORKER_LEASE must be at least 1s, got %s", c.Worker.Lease)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts)
	}

	if c.Redact.RequestsPerMinute < 1 {
		return fmt.Errorf("OPENAI_REQUESTS_PER_MINUTE must be at least 1, got %d", c.Redact.RequestsPerMinute)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
