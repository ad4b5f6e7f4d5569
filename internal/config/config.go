package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/invocr/internal/cache"
	"github.com/MeKo-Tech/invocr/internal/export"
	"github.com/MeKo-Tech/invocr/internal/matcher"
	"github.com/MeKo-Tech/invocr/internal/pipeline"
	"github.com/MeKo-Tech/invocr/internal/server"
	"github.com/MeKo-Tech/invocr/internal/validation"
)

// Slow tier providers.
const (
	SlowGemini = "gemini"
	SlowOpenAI = "openai"
	SlowNone   = "none"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheBolt   = "bolt"
	CacheNone   = "none"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	p := pipeline.DefaultConfig()
	v := validation.DefaultConfig()
	return Config{
		LogLevel: "info",
		Providers: ProvidersConfig{
			FastURL:        "http://localhost:8866/recognize",
			SlowProvider:   SlowGemini,
			SlowConfidence: 0.95,
			HTTPTimeoutSec: 60,
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: p.Escalation.ConfidenceThreshold,
			MinCellArea:         p.Escalation.MinCellArea,
			ChunkSize:           p.ChunkSize,
			DeadlineSec:         int(p.Deadline / time.Second),
			MaxRetries:          p.Escalation.Retry.MaxRetries,
			RetryBaseMs:         int(p.Escalation.Retry.BaseDelay / time.Millisecond),
			CallTimeoutSec:      int(p.Escalation.Retry.CallTimeout / time.Second),
			UploadMaxSide:       p.Upload.MaxSide,
		},
		Validation: ValidationConfig{
			Tolerance: v.Tolerance,
			AutoFix:   v.AutoFix,
			Guards:    v.Guards,
		},
		Matching: matcher.DefaultConfig(),
		Cache: CacheConfig{
			Backend:    CacheMemory,
			MaxEntries: 100,
			TTLHours:   int(cache.DefaultTTL / time.Hour),
		},
		Output: OutputConfig{
			Format: string(export.FormatJSON),
		},
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8080,
			CORSOrigin:        "*",
			MaxUploadMB:       20,
			TimeoutSec:        180,
			ShutdownTimeout:   10,
			MaxBatchItems:     20,
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     500 * 1024 * 1024,
		},
		Batch: BatchConfig{
			Workers:         4,
			ContinueOnError: true,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Output.Format != "" {
		if _, err := export.ParseFormat(c.Output.Format); err != nil {
			return fmt.Errorf("invalid output format: %w", err)
		}
	}

	validSlow := []string{SlowGemini, SlowOpenAI, SlowNone}
	if !slices.Contains(validSlow, c.Providers.SlowProvider) {
		return fmt.Errorf("invalid slow provider: %s (must be one of: %s)",
			c.Providers.SlowProvider, strings.Join(validSlow, ", "))
	}
	validCache := []string{CacheMemory, CacheBolt, CacheNone}
	if !slices.Contains(validCache, c.Cache.Backend) {
		return fmt.Errorf("invalid cache backend: %s (must be one of: %s)", c.Cache.Backend, strings.Join(validCache, ", "))
	}
	if c.Cache.Backend == CacheBolt && c.Cache.Path == "" {
		return fmt.Errorf("cache backend %s requires cache.path", CacheBolt)
	}

	thresholds := []struct {
		name  string
		value float64
	}{
		{"pipeline.confidence_threshold", c.Pipeline.ConfidenceThreshold},
		{"providers.slow_confidence", c.Providers.SlowConfidence},
		{"validation.tolerance", c.Validation.Tolerance},
		{"matching.threshold", c.Matching.Threshold},
		{"matching.outright", c.Matching.Outright},
		{"matching.rescue", c.Matching.Rescue},
		{"matching.greedy", c.Matching.Greedy},
		{"matching.suggestion_floor", c.Matching.SuggestionFloor},
	}
	for _, th := range thresholds {
		if err := validateThreshold(th.value, th.name); err != nil {
			return err
		}
	}

	positives := []struct {
		name  string
		value int
	}{
		{"pipeline.chunk_size", c.Pipeline.ChunkSize},
		{"pipeline.deadline_sec", c.Pipeline.DeadlineSec},
		{"pipeline.upload_max_side", c.Pipeline.UploadMaxSide},
		{"server.max_upload_mb", c.Server.MaxUploadMB},
		{"server.timeout_sec", c.Server.TimeoutSec},
		{"batch.workers", c.Batch.Workers},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("invalid %s: %d (must be positive)", p.name, p.value)
		}
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("invalid pipeline.max_retries: %d (must not be negative)", c.Pipeline.MaxRetries)
	}
	if g := c.Validation.Guards; g.MaxLostZeroPrice < 0 || g.MinExtraZeroPrice < 0 || g.MinMissedDecimalQty < 0 {
		return fmt.Errorf("invalid validation.guards: %+v (must not be negative)", g)
	}
	if c.Matching.MaxSuggestions < 0 {
		return fmt.Errorf("invalid matching.max_suggestions: %d (must not be negative)", c.Matching.MaxSuggestions)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	return nil
}

// ToPipelineConfig converts the config to the pipeline configuration. It
// loads the sanity rule file when one is configured.
func (c *Config) ToPipelineConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	policy := cfg.Escalation.Retry
	policy.MaxRetries = c.Pipeline.MaxRetries
	if c.Pipeline.RetryBaseMs > 0 {
		policy.BaseDelay = time.Duration(c.Pipeline.RetryBaseMs) * time.Millisecond
	}
	if c.Pipeline.CallTimeoutSec > 0 {
		policy.CallTimeout = time.Duration(c.Pipeline.CallTimeoutSec) * time.Second
	}

	cfg.Escalation.ConfidenceThreshold = c.Pipeline.ConfidenceThreshold
	cfg.Escalation.MinCellArea = c.Pipeline.MinCellArea
	cfg.Escalation.Retry = policy
	cfg.DetectRetry = policy
	cfg.RetryBudget = c.Pipeline.MaxRetries
	cfg.ChunkSize = c.Pipeline.ChunkSize
	cfg.Deadline = time.Duration(c.Pipeline.DeadlineSec) * time.Second
	cfg.Upload.MaxSide = c.Pipeline.UploadMaxSide
	if c.Cache.TTLHours > 0 {
		cfg.CacheTTL = time.Duration(c.Cache.TTLHours) * time.Hour
	}

	cfg.Validation.Tolerance = c.Validation.Tolerance
	cfg.Validation.AutoFix = c.Validation.AutoFix
	cfg.Validation.Guards = c.Validation.Guards
	if c.Validation.RulesFile != "" {
		rules, err := validation.LoadRules(c.Validation.RulesFile)
		if err != nil {
			return pipeline.Config{}, fmt.Errorf("loading sanity rules: %w", err)
		}
		cfg.Validation.Rules = rules
	}

	cfg.Matching = c.Matching
	return cfg, nil
}

// ToServerConfig converts the config to the HTTP server configuration.
func (c *Config) ToServerConfig() server.Config {
	return server.Config{
		Host:          c.Server.Host,
		Port:          c.Server.Port,
		CORSOrigin:    c.Server.CORSOrigin,
		MaxUploadMB:   int64(c.Server.MaxUploadMB),
		TimeoutSec:    c.Server.TimeoutSec,
		MaxBatchItems: c.Server.MaxBatchItems,
		RateLimit: server.RateLimitConfig{
			Enabled:           c.Server.RateLimitEnabled,
			RequestsPerMinute: c.Server.RequestsPerMinute,
			RequestsPerHour:   c.Server.RequestsPerHour,
			MaxRequestsPerDay: c.Server.MaxRequestsPerDay,
			MaxDataPerDay:     c.Server.MaxDataPerDay,
		},
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
