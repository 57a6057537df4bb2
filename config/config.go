package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/mansingh-04/prooback/fetch"
	"github.com/mansingh-04/prooback/logging"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       logging.Config  `yaml:"log"`
	Fetch     FetchConfig     `yaml:"fetch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port           int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	AllowedOrigins []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

type ModelConfig struct {
	Path string `yaml:"path" envconfig:"MODEL_PATH"`
	// ResetOnStart replaces any persisted artifact with the baseline at startup.
	ResetOnStart bool    `yaml:"reset_on_start" envconfig:"MODEL_RESET_ON_START"`
	Watch        bool    `yaml:"watch" envconfig:"MODEL_WATCH"`
	CacheSize    int     `yaml:"cache_size" envconfig:"MODEL_CACHE_SIZE"`
	LearningRate float64 `yaml:"learning_rate" envconfig:"MODEL_LEARNING_RATE"`
	MaxStep      float64 `yaml:"max_step" envconfig:"MODEL_MAX_STEP"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"DB_PATH"`
}

type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout" envconfig:"FETCH_TIMEOUT"`
	MaxBytes  int64         `yaml:"max_bytes" envconfig:"FETCH_MAX_BYTES"`
	UserAgent string        `yaml:"user_agent" envconfig:"FETCH_USER_AGENT"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" envconfig:"RATE_LIMIT_ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
}

// Default returns the configuration used when no file or environment overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           5050,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			RequestTimeout: 20 * time.Second,
			MaxBodyBytes:   10 << 20,
			AllowedOrigins: []string{"*"},
		},
		Model: ModelConfig{
			Path:         "data/score_model.json",
			ResetOnStart: true,
			Watch:        true,
			CacheSize:    256,
			LearningRate: 0.5,
			MaxStep:      15,
		},
		Database: DatabaseConfig{Path: "data/scorer.db"},
		Log:      logging.DefaultConfig(),
		Fetch: FetchConfig{
			Timeout:   fetch.DefaultTimeout,
			MaxBytes:  fetch.DefaultMaxBytes,
			UserAgent: fetch.DefaultUserAgent,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// Load applies, in order: defaults, the YAML file at path (skipped when missing), environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Model.LearningRate <= 0 || c.Model.LearningRate > 1 {
		return fmt.Errorf("model.learning_rate %v must be in (0,1]", c.Model.LearningRate)
	}
	if c.Model.MaxStep <= 0 {
		return fmt.Errorf("model.max_step %v must be positive", c.Model.MaxStep)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate_limit requires positive requests_per_second and burst")
	}
	return nil
}
