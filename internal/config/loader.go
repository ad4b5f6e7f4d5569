package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "invocr"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "INVOCR"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance, which is where
// the cobra flags are bound.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on an isolated viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the configuration file (if any), environment variables and
// defaults, then validates the result.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path. An empty
// path searches the standard locations.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation is LoadWithFile without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every option so AutomaticEnv can override nested
// keys during Unmarshal.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("providers.table_url", d.Providers.TableURL)
	l.v.SetDefault("providers.fast_url", d.Providers.FastURL)
	l.v.SetDefault("providers.slow_provider", d.Providers.SlowProvider)
	l.v.SetDefault("providers.slow_url", d.Providers.SlowURL)
	l.v.SetDefault("providers.slow_model", d.Providers.SlowModel)
	l.v.SetDefault("providers.slow_api_key", d.Providers.SlowAPIKey)
	l.v.SetDefault("providers.slow_confidence", d.Providers.SlowConfidence)
	l.v.SetDefault("providers.slow_temperature", d.Providers.SlowTemperature)
	l.v.SetDefault("providers.http_timeout_sec", d.Providers.HTTPTimeoutSec)

	l.v.SetDefault("pipeline.confidence_threshold", d.Pipeline.ConfidenceThreshold)
	l.v.SetDefault("pipeline.min_cell_area", d.Pipeline.MinCellArea)
	l.v.SetDefault("pipeline.chunk_size", d.Pipeline.ChunkSize)
	l.v.SetDefault("pipeline.deadline_sec", d.Pipeline.DeadlineSec)
	l.v.SetDefault("pipeline.max_retries", d.Pipeline.MaxRetries)
	l.v.SetDefault("pipeline.retry_base_ms", d.Pipeline.RetryBaseMs)
	l.v.SetDefault("pipeline.call_timeout_sec", d.Pipeline.CallTimeoutSec)
	l.v.SetDefault("pipeline.upload_max_side", d.Pipeline.UploadMaxSide)

	l.v.SetDefault("validation.tolerance", d.Validation.Tolerance)
	l.v.SetDefault("validation.auto_fix", d.Validation.AutoFix)
	l.v.SetDefault("validation.guards.max_lost_zero_price", d.Validation.Guards.MaxLostZeroPrice)
	l.v.SetDefault("validation.guards.min_extra_zero_price", d.Validation.Guards.MinExtraZeroPrice)
	l.v.SetDefault("validation.guards.min_missed_decimal_qty", d.Validation.Guards.MinMissedDecimalQty)
	l.v.SetDefault("validation.rules_file", d.Validation.RulesFile)

	l.v.SetDefault("matching.threshold", d.Matching.Threshold)
	l.v.SetDefault("matching.outright", d.Matching.Outright)
	l.v.SetDefault("matching.rescue", d.Matching.Rescue)
	l.v.SetDefault("matching.greedy", d.Matching.Greedy)
	l.v.SetDefault("matching.suggestion_floor", d.Matching.SuggestionFloor)
	l.v.SetDefault("matching.max_suggestions", d.Matching.MaxSuggestions)

	l.v.SetDefault("catalog.file", d.Catalog.File)
	l.v.SetDefault("catalog.db", d.Catalog.DB)

	l.v.SetDefault("cache.backend", d.Cache.Backend)
	l.v.SetDefault("cache.path", d.Cache.Path)
	l.v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	l.v.SetDefault("cache.ttl_hours", d.Cache.TTLHours)

	l.v.SetDefault("output.format", d.Output.Format)
	l.v.SetDefault("output.file", d.Output.File)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.max_batch_items", d.Server.MaxBatchItems)
	l.v.SetDefault("server.rate_limit_enabled", d.Server.RateLimitEnabled)
	l.v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)
	l.v.SetDefault("server.requests_per_hour", d.Server.RequestsPerHour)
	l.v.SetDefault("server.max_requests_per_day", d.Server.MaxRequestsPerDay)
	l.v.SetDefault("server.max_data_per_day", d.Server.MaxDataPerDay)

	l.v.SetDefault("batch.workers", d.Batch.Workers)
	l.v.SetDefault("batch.continue_on_error", d.Batch.ContinueOnError)
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes the defaults to filename (invocr.yaml
// when empty).
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		paths = append(paths, home)
	}
	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if homeErr == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}
	return append(paths, "/etc/"+ConfigFileName)
}

// PrintConfigInfo writes information about configuration loading.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", l.GetConfigFileUsed())
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s\n", EnvPrefix)
}
