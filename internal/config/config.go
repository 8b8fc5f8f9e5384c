package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrMissingCredential is returned when the Gemini API key is not configured.
var ErrMissingCredential = errors.New("GEMINI_API_KEY is not set")

type (
	// Config holds every value the service reads from the process environment.
	Config struct {
		HTTP    HTTP
		Log     Log
		Gemini  Gemini
		Capture Capture
		DB      DB
		Redis   Redis
		Auth    Auth
		GRPC    GRPC
		Kafka   Kafka
		S3      S3
	}

	HTTP struct {
		Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	}

	Log struct {
		Level string `env:"LOG_LEVEL" envDefault:"info"`
	}

	Gemini struct {
		APIKey  string        `env:"GEMINI_API_KEY"`
		Model   string        `env:"GEMINI_MODEL" envDefault:"gemini-1.5-pro-latest"`
		Timeout time.Duration `env:"GEMINI_TIMEOUT" envDefault:"60s"`
	}

	// Capture controls where captured photos are written and how long they are kept.
	// A zero Retention keeps every capture forever.
	Capture struct {
		Dir           string        `env:"CAPTURE_DIR" envDefault:"."`
		Retention     time.Duration `env:"CAPTURE_RETENTION" envDefault:"24h"`
		SweepInterval time.Duration `env:"CAPTURE_SWEEP_INTERVAL" envDefault:"1h"`
	}

	DB struct {
		DSN string `env:"DATABASE_DSN"`
	}

	Redis struct {
		Addr string `env:"REDIS_ADDR"`
	}

	Auth struct {
		JWTSecret   string `env:"JWT_SECRET" envDefault:"dev-secret"`
		JWTAudience string `env:"JWT_AUDIENCE"`
	}

	GRPC struct {
		HealthAddr string `env:"GRPC_HEALTH_ADDR"`
	}

	Kafka struct {
		Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
		Topic   string   `env:"KAFKA_TOPIC" envDefault:"age-verdicts"`
	}

	S3 struct {
		Endpoint  string `env:"S3_ENDPOINT"`
		Region    string `env:"S3_REGION" envDefault:"us-east-1"`
		AccessKey string `env:"S3_ACCESS_KEY"`
		SecretKey string `env:"S3_SECRET_KEY"`
		Bucket    string `env:"S3_BUCKET"`
	}
)

// Load reads a .env file when one exists and then parses the environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("config - godotenv.Load: %w", err)
		}
	}
	return New()
}

// New parses the current environment into a Config and validates it.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg.Gemini.APIKey = strings.TrimSpace(cfg.Gemini.APIKey)
	if cfg.Gemini.APIKey == "" {
		return nil, ErrMissingCredential
	}
	return cfg, nil
}

// S3Enabled reports whether captures should be mirrored to object storage.
func (c *Config) S3Enabled() bool {
	return c.S3.Bucket != ""
}
