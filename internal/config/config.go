package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"open-data-insight/internal/model"
)

// Config holds all service configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Log         LogConfig
	Pipeline    PipelineConfig
	Jobs        JobsConfig
	Connections ConnectionsConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	OutputDir       string
}

// DatabaseConfig selects the repository backend.
// memory:// | sqlite:///path/to.db | sqlite://:memory: | postgres://...
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// PipelineConfig bounds a single ingestion run
type PipelineConfig struct {
	MaxPages         int
	MaxRecords       int
	RequestTimeout   time.Duration
	RateLimitRPS     float64
	UserAgent        string
	Retry            model.RetryConfig
	MaxFlattenDepth  int
	InferenceSample  int
	TypeThreshold    float64
	SampleLimit      int
	TopCategories    int
	HistogramBuckets int
	MaxCharts        int
	PreviewLimit     int
}

// JobsConfig sizes the orchestrator's worker pool
type JobsConfig struct {
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	RefreshTTL time.Duration
}

// ConnectionsConfig points at optional seed data
type ConnectionsConfig struct {
	SeedFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.output_dir", "outputs")

	v.SetDefault("database.url", "sqlite:///open_data_insight.db")
	v.SetDefault("database.max_open_conns", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("pipeline.max_pages", 50)
	v.SetDefault("pipeline.max_records", 100000)
	v.SetDefault("pipeline.request_timeout", 30*time.Second)
	v.SetDefault("pipeline.rate_limit_rps", 5.0)
	v.SetDefault("pipeline.user_agent", "open-data-insight/1.0")
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.backoff_initial", 750*time.Millisecond)
	v.SetDefault("pipeline.backoff_max", 10*time.Second)
	v.SetDefault("pipeline.backoff_factor", 2.0)
	v.SetDefault("pipeline.max_flatten_depth", 3)
	v.SetDefault("pipeline.inference_sample", 1000)
	v.SetDefault("pipeline.type_threshold", 0.9)
	v.SetDefault("pipeline.sample_limit", 5)
	v.SetDefault("pipeline.top_categories", 5)
	v.SetDefault("pipeline.histogram_buckets", 10)
	v.SetDefault("pipeline.max_charts", 12)
	v.SetDefault("pipeline.preview_limit", 4000)

	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 64)
	v.SetDefault("jobs.timeout", 5*time.Minute)
	v.SetDefault("jobs.refresh_ttl", time.Duration(0))

	v.SetDefault("connections.seed_file", "")
}

// Load reads configuration.
// Priority (highest to lowest):
// 1. Environment variables with OPEN_DATA_ prefix (e.g., OPEN_DATA_DATABASE_URL)
// 2. configFile, or config.yaml in the working directory
// 3. Built-in defaults
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("OPEN_DATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			OutputDir:       v.GetString("server.output_dir"),
		},
		Database: DatabaseConfig{
			URL:          v.GetString("database.url"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Pipeline: PipelineConfig{
			MaxPages:       v.GetInt("pipeline.max_pages"),
			MaxRecords:     v.GetInt("pipeline.max_records"),
			RequestTimeout: v.GetDuration("pipeline.request_timeout"),
			RateLimitRPS:   v.GetFloat64("pipeline.rate_limit_rps"),
			UserAgent:      v.GetString("pipeline.user_agent"),
			Retry: model.RetryConfig{
				MaxRetries:    v.GetInt("pipeline.max_retries"),
				InitialDelay:  v.GetDuration("pipeline.backoff_initial"),
				MaxDelay:      v.GetDuration("pipeline.backoff_max"),
				BackoffFactor: v.GetFloat64("pipeline.backoff_factor"),
			},
			MaxFlattenDepth:  v.GetInt("pipeline.max_flatten_depth"),
			InferenceSample:  v.GetInt("pipeline.inference_sample"),
			TypeThreshold:    v.GetFloat64("pipeline.type_threshold"),
			SampleLimit:      v.GetInt("pipeline.sample_limit"),
			TopCategories:    v.GetInt("pipeline.top_categories"),
			HistogramBuckets: v.GetInt("pipeline.histogram_buckets"),
			MaxCharts:        v.GetInt("pipeline.max_charts"),
			PreviewLimit:     v.GetInt("pipeline.preview_limit"),
		},
		Jobs: JobsConfig{
			Workers:    v.GetInt("jobs.workers"),
			QueueSize:  v.GetInt("jobs.queue_size"),
			Timeout:    v.GetDuration("jobs.timeout"),
			RefreshTTL: v.GetDuration("jobs.refresh_ttl"),
		},
		Connections: ConnectionsConfig{
			SeedFile: v.GetString("connections.seed_file"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Pipeline.MaxPages < 1 {
		errs = append(errs, errors.New("pipeline.max_pages must be at least 1"))
	}
	if c.Pipeline.MaxRecords < 1 {
		errs = append(errs, errors.New("pipeline.max_records must be at least 1"))
	}
	if c.Pipeline.TypeThreshold <= 0 || c.Pipeline.TypeThreshold > 1 {
		errs = append(errs, errors.New("pipeline.type_threshold must be in (0, 1]"))
	}
	if c.Pipeline.HistogramBuckets < 1 {
		errs = append(errs, errors.New("pipeline.histogram_buckets must be at least 1"))
	}
	if c.Pipeline.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("pipeline.max_retries must not be negative"))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, errors.New("jobs.workers must be at least 1"))
	}
	if c.Jobs.QueueSize < 1 {
		errs = append(errs, errors.New("jobs.queue_size must be at least 1"))
	}
	if c.Jobs.Timeout <= 0 {
		errs = append(errs, errors.New("jobs.timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
