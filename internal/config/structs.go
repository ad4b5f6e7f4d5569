//nolint:lll
package config

import (
	"github.com/MeKo-Tech/invocr/internal/matcher"
	"github.com/MeKo-Tech/invocr/internal/validation"
)

// Config represents the complete configuration for invocr. It covers every
// command (process, serve, catalog) and is loaded from configuration files,
// environment variables and command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// External collaborators
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers" json:"providers"`

	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation" json:"validation"`
	Matching   matcher.Config   `mapstructure:"matching" yaml:"matching" json:"matching"`
	Catalog    CatalogConfig    `mapstructure:"catalog" yaml:"catalog" json:"catalog"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache" json:"cache"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// ProvidersConfig locates the table detector and the recognizer tiers.
type ProvidersConfig struct {
	// TableURL is the table/cell detection service; empty skips detection
	// and always uses the whole-image path.
	TableURL string `mapstructure:"table_url" yaml:"table_url" json:"table_url"`
	// FastURL is the per-cell OCR service.
	FastURL string `mapstructure:"fast_url" yaml:"fast_url" json:"fast_url"`
	// SlowProvider is gemini, openai or none.
	SlowProvider    string  `mapstructure:"slow_provider" yaml:"slow_provider" json:"slow_provider"`
	SlowURL         string  `mapstructure:"slow_url" yaml:"slow_url" json:"slow_url"`
	// SlowModel empty selects the provider default.
	SlowModel       string  `mapstructure:"slow_model" yaml:"slow_model" json:"slow_model"`
	SlowAPIKey      string  `mapstructure:"slow_api_key" yaml:"slow_api_key" json:"-"`
	SlowConfidence  float64 `mapstructure:"slow_confidence" yaml:"slow_confidence" json:"slow_confidence"`
	SlowTemperature float32 `mapstructure:"slow_temperature" yaml:"slow_temperature" json:"slow_temperature"`
	HTTPTimeoutSec  int     `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec" json:"http_timeout_sec"`
}

// PipelineConfig contains per-invoice processing settings.
type PipelineConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
	MinCellArea         float64 `mapstructure:"min_cell_area" yaml:"min_cell_area" json:"min_cell_area"`
	ChunkSize           int     `mapstructure:"chunk_size" yaml:"chunk_size" json:"chunk_size"`
	DeadlineSec         int     `mapstructure:"deadline_sec" yaml:"deadline_sec" json:"deadline_sec"`
	MaxRetries          int     `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	RetryBaseMs         int     `mapstructure:"retry_base_ms" yaml:"retry_base_ms" json:"retry_base_ms"`
	CallTimeoutSec      int     `mapstructure:"call_timeout_sec" yaml:"call_timeout_sec" json:"call_timeout_sec"`
	UploadMaxSide       int     `mapstructure:"upload_max_side" yaml:"upload_max_side" json:"upload_max_side"`
}

// ValidationConfig contains arithmetic and sanity check settings.
type ValidationConfig struct {
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
	AutoFix   bool    `mapstructure:"auto_fix" yaml:"auto_fix" json:"auto_fix"`
	// Guards bound the factor-of-ten corrections.
	Guards validation.Guards `mapstructure:"guards" yaml:"guards" json:"guards"`
	// RulesFile replaces the built-in sanity rules.
	RulesFile string `mapstructure:"rules_file" yaml:"rules_file" json:"rules_file"`
}

// CatalogConfig selects the product catalog source. DB wins over File.
type CatalogConfig struct {
	File string `mapstructure:"file" yaml:"file" json:"file"`
	DB   string `mapstructure:"db" yaml:"db" json:"db"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	// Backend is memory, bolt or none.
	Backend    string `mapstructure:"backend" yaml:"backend" json:"backend"`
	Path       string `mapstructure:"path" yaml:"path" json:"path"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries" json:"max_entries"`
	TTLHours   int    `mapstructure:"ttl_hours" yaml:"ttl_hours" json:"ttl_hours"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBatchItems   int    `mapstructure:"max_batch_items" yaml:"max_batch_items" json:"max_batch_items"`

	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// BatchConfig contains multi-file processing settings.
type BatchConfig struct {
	Workers         int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}
