package config

import (
	"os"
	"strings"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level gharp configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Scan     ScanConfig     `yaml:"scan"`
	Search   SearchConfig   `yaml:"search"`
	Export   ExportConfig   `yaml:"export"`
	Server   ServerConfig   `yaml:"server"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`      // "json" or "console"
	FilePath   string `yaml:"file_path"`   // Path to log file
	Console    bool   `yaml:"console"`     // Whether to log to console
	MaxSize    int    `yaml:"max_size"`    // Max file size in MB
	MaxBackups int    `yaml:"max_backups"` // Max number of backup files
	MaxAge     int    `yaml:"max_age"`     // Max age in days
	Cleanup    bool   `yaml:"cleanup"`     // Truncate the log file on startup
}

// DatabaseConfig configures the embedded analytical store
type DatabaseConfig struct {
	Path                   string      `yaml:"path"` // empty means in-memory
	MemoryLimit            string      `yaml:"memory_limit"`
	Threads                int         `yaml:"threads"`
	TempDirectory          string      `yaml:"temp_directory"`
	MaxConnections         int         `yaml:"max_connections"`
	PreserveInsertionOrder bool        `yaml:"preserve_insertion_order"`
	Retry                  RetryConfig `yaml:"retry"`
}

// RetryConfig is the backoff policy for transient store failures
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// ScanConfig controls directory scanning and schema inference
type ScanConfig struct {
	DataDir         string   `yaml:"data_dir"`
	Extensions      []string `yaml:"extensions"`
	SampleSize      int      `yaml:"sample_size"`
	NormalizeNames  bool     `yaml:"normalize_names"`
	Watch           bool     `yaml:"watch"` // keep tables in step with data_dir while serving
	WatchDebounceMS int      `yaml:"watch_debounce_ms"`
}

// SearchConfig holds executor, cache and history tuning
type SearchConfig struct {
	DefaultChunkSize      int `yaml:"default_chunk_size"`
	MaxResultLimit        int `yaml:"max_result_limit"`
	DefaultPageSize       int `yaml:"default_page_size"`
	MaxWorkers            int `yaml:"max_workers"`
	LargeFileThresholdMB  int `yaml:"large_file_threshold_mb"`
	CacheTTLSeconds       int `yaml:"cache_ttl_seconds"`
	ColumnIndexTTLSeconds int `yaml:"column_index_ttl_seconds"`
	PopularWindowDays     int `yaml:"popular_window_days"`
	HistoryLimit          int `yaml:"history_limit"`
}

// ExportConfig configures result export
type ExportConfig struct {
	Compression string `yaml:"compression"` // parquet codec
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	HTTPAddress string `yaml:"http_address"`
	UserHeader  string `yaml:"user_header"`
}

// LoadDefaultConfig returns a default configuration
func LoadDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			FilePath:   "logs/gharp.log",
			Console:    true,
			MaxSize:    100, // 100MB
			MaxBackups: 3,
			MaxAge:     7,
			Cleanup:    false,
		},
		Database: DatabaseConfig{
			Path:                   "data/gharp.duckdb",
			MemoryLimit:            "8GB",
			Threads:                4,
			TempDirectory:          os.TempDir() + "/gharp_duckdb",
			MaxConnections:         8,
			PreserveInsertionOrder: true,
			Retry: RetryConfig{
				MaxAttempts:   3,
				BaseDelay:     50 * time.Millisecond,
				MaxDelay:      2 * time.Second,
				BackoffFactor: 2.0,
			},
		},
		Scan: ScanConfig{
			DataDir:         "data",
			Extensions:      []string{".csv", ".parquet"},
			SampleSize:      100000,
			NormalizeNames:  false,
			Watch:           false,
			WatchDebounceMS: 500,
		},
		Search: SearchConfig{
			DefaultChunkSize:      1000,
			MaxResultLimit:        50000,
			DefaultPageSize:       500,
			MaxWorkers:            3,
			LargeFileThresholdMB:  100,
			CacheTTLSeconds:       3600,
			ColumnIndexTTLSeconds: 600,
			PopularWindowDays:     7,
			HistoryLimit:          20,
		},
		Export: ExportConfig{
			Compression: "snappy",
		},
		Server: ServerConfig{
			HTTPAddress: DefaultHTTPAddress(),
			UserHeader:  DEFAULT_USER_HEADER,
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.New(ErrConfigFileReadFailed, "failed to read config file", err).AddContext("path", filename)
	}

	config := LoadDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.New(ErrConfigFileParseFailed, "failed to parse config file", err).AddContext("path", filename)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.New(ErrConfigValidationFailed, "configuration validation failed", err)
	}

	return config, nil
}

// SaveConfig saves configuration to a file
func SaveConfig(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.New(ErrConfigFileMarshalFailed, "failed to marshal config", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.New(ErrConfigFileWriteFailed, "failed to write config file", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return errors.New(ErrDatabaseValidationFailed, "database validation failed", err)
	}
	if err := c.Scan.Validate(); err != nil {
		return errors.New(ErrScanValidationFailed, "scan validation failed", err)
	}
	if err := c.Search.Validate(); err != nil {
		return errors.New(ErrSearchValidationFailed, "search validation failed", err)
	}
	return nil
}

// Validate validates the database configuration
func (d *DatabaseConfig) Validate() error {
	if d.Threads < 0 {
		return errors.New(ErrInvalidValue, "threads must not be negative", nil).AddContext("field", "threads")
	}
	if d.MaxConnections < 0 {
		return errors.New(ErrInvalidValue, "max_connections must not be negative", nil).AddContext("field", "max_connections")
	}
	if d.Retry.MaxAttempts < 1 {
		return errors.New(ErrInvalidValue, "retry.max_attempts must be at least 1", nil).AddContext("field", "retry.max_attempts")
	}
	if d.Retry.BackoffFactor < 1 {
		return errors.New(ErrInvalidValue, "retry.backoff_factor must be at least 1", nil).AddContext("field", "retry.backoff_factor")
	}
	return nil
}

// Validate validates the scan configuration
func (s *ScanConfig) Validate() error {
	if len(s.Extensions) == 0 {
		return errors.New(ErrExtensionsRequired, "at least one file extension is required", nil)
	}
	for _, ext := range s.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return errors.New(ErrInvalidValue, "extensions must start with a dot", nil).AddContext("extension", ext)
		}
	}
	if s.SampleSize < -1 || s.SampleSize == 0 {
		return errors.New(ErrInvalidValue, "sample_size must be positive or -1", nil).AddContext("field", "sample_size")
	}
	return nil
}

// Validate validates the search configuration
func (s *SearchConfig) Validate() error {
	positive := map[string]int{
		"default_chunk_size":       s.DefaultChunkSize,
		"max_result_limit":         s.MaxResultLimit,
		"default_page_size":        s.DefaultPageSize,
		"max_workers":              s.MaxWorkers,
		"cache_ttl_seconds":        s.CacheTTLSeconds,
		"column_index_ttl_seconds": s.ColumnIndexTTLSeconds,
		"popular_window_days":      s.PopularWindowDays,
	}
	for field, v := range positive {
		if v <= 0 {
			return errors.New(ErrInvalidValue, field+" must be positive", nil).AddContext("field", field)
		}
	}
	return nil
}

// CacheTTL returns the result cache entry lifetime
func (s *SearchConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// ColumnIndexTTL returns the lifetime of the in-memory column index view
func (s *SearchConfig) ColumnIndexTTL() time.Duration {
	return time.Duration(s.ColumnIndexTTLSeconds) * time.Second
}

// WatchDebounce returns how long the watcher waits for a file to settle
func (s *ScanConfig) WatchDebounce() time.Duration {
	return time.Duration(s.WatchDebounceMS) * time.Millisecond
}

// PopularWindow returns the look-back window for popular searches
func (s *SearchConfig) PopularWindow() time.Duration {
	return time.Duration(s.PopularWindowDays) * 24 * time.Hour
}
