package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the synthesis serving core
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Category length thresholds in characters. A text whose length equals a
	// threshold falls into the next category up.
	ShortThreshold  int `envconfig:"SHORT_THRESHOLD" default:"20"`
	MediumThreshold int `envconfig:"MEDIUM_THRESHOLD" default:"100"`
	LongThreshold   int `envconfig:"LONG_THRESHOLD" default:"300"`

	// Default batch sizes per category. The auto-tuner may move the live value
	// between 1 and twice the default.
	ShortBatchSize  int `envconfig:"SHORT_BATCH_SIZE" default:"8"`
	MediumBatchSize int `envconfig:"MEDIUM_BATCH_SIZE" default:"4"`
	LongBatchSize   int `envconfig:"LONG_BATCH_SIZE" default:"2"`

	// Default batch timeouts in milliseconds per category
	ShortBatchTimeoutMs  int `envconfig:"SHORT_BATCH_TIMEOUT_MS" default:"50"`
	MediumBatchTimeoutMs int `envconfig:"MEDIUM_BATCH_TIMEOUT_MS" default:"100"`
	LongBatchTimeoutMs   int `envconfig:"LONG_BATCH_TIMEOUT_MS" default:"200"`

	// Dispatcher memory budget. Batches are split in half while process RSS
	// exceeds the ceiling.
	MemoryCeilingBytes uint64 `envconfig:"MEMORY_CEILING_BYTES" default:"2147483648"` // 2 GiB

	// Auto-tuner configuration
	AutoTuneEnabled  bool    `envconfig:"AUTOTUNE_ENABLED" default:"true"`
	AutoTuneInterval int     `envconfig:"AUTOTUNE_INTERVAL_SEC" default:"30"`
	TargetRTF        float64 `envconfig:"TARGET_RTF" default:"0.25"`     // processing time / audio duration
	MaxLatencyMs     int     `envconfig:"MAX_LATENCY_MS" default:"5000"` // absolute per-batch latency ceiling
	MinTuneSamples   int     `envconfig:"MIN_TUNE_SAMPLES" default:"10"` // samples required before tuning
	TuneWindowSize   int     `envconfig:"TUNE_WINDOW_SIZE" default:"50"` // rolling window of batch samples

	// Voice embedding cache configuration
	CacheCapacity int    `envconfig:"CACHE_CAPACITY" default:"10"`  // entry count, not bytes
	VoiceDir      string `envconfig:"VOICE_DIR" default:"./voices"` // embedding files for the loader
	PreloadVoices string `envconfig:"PRELOAD_VOICES" default:""`    // comma-separated voice ids to pin

	// Synthesis backend endpoint
	BackendURL        string `envconfig:"BACKEND_URL" default:"http://localhost:8880/v1/synthesize"`
	BackendTimeoutSec int    `envconfig:"BACKEND_TIMEOUT_SEC" default:"60"`

	// Circuit breaker for the backend adapter
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that envconfig tags cannot express
func (c *Config) Validate() error {
	if !(c.ShortThreshold < c.MediumThreshold && c.MediumThreshold < c.LongThreshold) {
		return fmt.Errorf("length thresholds must be strictly ascending: short=%d medium=%d long=%d",
			c.ShortThreshold, c.MediumThreshold, c.LongThreshold)
	}
	if c.ShortBatchSize < 1 || c.MediumBatchSize < 1 || c.LongBatchSize < 1 {
		return fmt.Errorf("batch sizes must be at least 1")
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cache capacity must be at least 1")
	}
	if c.TargetRTF <= 0 {
		return fmt.Errorf("target RTF must be positive, got %f", c.TargetRTF)
	}
	return nil
}

// AutoTuneIntervalDuration returns the tuning interval as a duration
func (c *Config) AutoTuneIntervalDuration() time.Duration {
	return time.Duration(c.AutoTuneInterval) * time.Second
}

// PreloadList returns the configured preload voice ids, split and trimmed
func (c *Config) PreloadList() []string {
	if c.PreloadVoices == "" {
		return nil
	}
	parts := strings.Split(c.PreloadVoices, ",")
	voices := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			voices = append(voices, v)
		}
	}
	return voices
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
