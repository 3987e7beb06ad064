// Package config loads pipeline configuration with the precedence
// runtime overrides > environment > config file > defaults.
package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the full pipeline configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Store        StoreConfig        `mapstructure:"store"`
	Facts        FactsConfig        `mapstructure:"facts"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Workers      int                `mapstructure:"workers"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Generator    GeneratorConfig    `mapstructure:"generator"`
	Results      ResultsConfig      `mapstructure:"results"`
	Verification VerificationConfig `mapstructure:"verification"`
	Audit        AuditConfig        `mapstructure:"audit"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// StoreConfig locates the durable job store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// FactsConfig locates the subject profile store.
type FactsConfig struct {
	Path string `mapstructure:"path"`
}

// QueueConfig bounds the in-process dispatch queue.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// RetryConfig bounds the retry budget.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	BackoffCap    time.Duration `mapstructure:"backoff_cap"`
}

// GeneratorConfig configures the LLM generation client.
type GeneratorConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// ResultsConfig selects and configures the result store backend.
type ResultsConfig struct {
	// Backend is "file" or "s3".
	Backend   string          `mapstructure:"backend"`
	HandleTTL time.Duration   `mapstructure:"handle_ttl"`
	File      FileStoreConfig `mapstructure:"file"`
	S3        S3StoreConfig   `mapstructure:"s3"`
}

// FileStoreConfig configures the filesystem result store.
type FileStoreConfig struct {
	Root    string `mapstructure:"root"`
	Secret  string `mapstructure:"secret"`
	BaseURL string `mapstructure:"base_url"`
}

// S3StoreConfig configures the S3 result store.
type S3StoreConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// VerificationConfig locates the optional verification policy file.
type VerificationConfig struct {
	PolicyPath string `mapstructure:"policy_path"`
}

// AuditConfig locates the JSONL audit trail.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

var (
	configMu     sync.RWMutex
	activeConfig *Config
)

// envSpec maps an environment variable onto a config key.
type envSpec struct {
	Name string
	Key  string
}

func getEnvSpecs() []envSpec {
	return []envSpec{
		{"FACTGATE_HOST", "server.host"},
		{"FACTGATE_PORT", "server.port"},
		{"FACTGATE_READ_TIMEOUT", "server.read_timeout"},
		{"FACTGATE_WRITE_TIMEOUT", "server.write_timeout"},
		{"FACTGATE_IDLE_TIMEOUT", "server.idle_timeout"},
		{"FACTGATE_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"FACTGATE_LOG_LEVEL", "logging.level"},
		{"FACTGATE_LOG_PROFILE", "logging.profile"},
		{"FACTGATE_STORE_PATH", "store.path"},
		{"FACTGATE_FACTS_PATH", "facts.path"},
		{"FACTGATE_QUEUE_CAPACITY", "queue.capacity"},
		{"FACTGATE_WORKERS", "workers"},
		{"FACTGATE_RETRY_MAX_ATTEMPTS", "retry.max_attempts"},
		{"FACTGATE_RETRY_BACKOFF_BASE", "retry.backoff_base"},
		{"FACTGATE_GENERATOR_ENDPOINT", "generator.endpoint"},
		{"FACTGATE_GENERATOR_API_KEY", "generator.api_key"},
		{"FACTGATE_GENERATOR_MODEL", "generator.model"},
		{"FACTGATE_GENERATOR_TIMEOUT", "generator.timeout"},
		{"FACTGATE_RESULTS_BACKEND", "results.backend"},
		{"FACTGATE_RESULTS_HANDLE_TTL", "results.handle_ttl"},
		{"FACTGATE_RESULTS_FILE_ROOT", "results.file.root"},
		{"FACTGATE_RESULTS_FILE_SECRET", "results.file.secret"},
		{"FACTGATE_RESULTS_FILE_BASE_URL", "results.file.base_url"},
		{"FACTGATE_RESULTS_S3_BUCKET", "results.s3.bucket"},
		{"FACTGATE_RESULTS_S3_REGION", "results.s3.region"},
		{"FACTGATE_RESULTS_S3_ENDPOINT", "results.s3.endpoint"},
		{"FACTGATE_POLICY_PATH", "verification.policy_path"},
		{"FACTGATE_AUDIT_PATH", "audit.path"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("store.path", "factgate-jobs.db")
	v.SetDefault("facts.path", "factgate-subjects.db")

	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("workers", 4)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_base", 5*time.Second)
	v.SetDefault("retry.backoff_factor", 2.0)
	v.SetDefault("retry.backoff_cap", 5*time.Minute)

	v.SetDefault("generator.endpoint", "https://api.anthropic.com/v1/messages")
	v.SetDefault("generator.model", "claude-sonnet-4-20250514")
	v.SetDefault("generator.max_tokens", 4096)
	v.SetDefault("generator.timeout", 120*time.Second)
	v.SetDefault("generator.rate_limit", 1.0)

	v.SetDefault("results.backend", "file")
	v.SetDefault("results.handle_ttl", time.Hour)
	v.SetDefault("results.file.root", "factgate-artifacts")
	v.SetDefault("results.file.base_url", "http://localhost:8080")
}

// Load builds the configuration. Optional override maps take
// precedence over environment variables, which take precedence over
// the optional config file, which takes precedence over defaults.
//
// The loaded config becomes the process-wide active config returned by
// GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("factgate")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/factgate")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FACTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Key, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, override := range overrides {
		if err := v.MergeConfigMap(override); err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}
		// MergeConfigMap only reaches the config layer; Set pins the
		// values above env vars.
		flattenInto(v, "", override)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	configMu.Lock()
	activeConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or nil when Load
// has not run.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return activeConfig
}

func flattenInto(v *viper.Viper, prefix string, m map[string]any) {
	for key, val := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenInto(v, full, nested)
			continue
		}
		v.Set(full, val)
	}
}
