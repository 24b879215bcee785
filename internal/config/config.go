// Package config loads service settings and the transform rule document.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/PaulBabatuyi/filebox/internal/classifier"
	"github.com/PaulBabatuyi/filebox/internal/observability"
	"github.com/PaulBabatuyi/filebox/internal/storage"
)

type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Database   DatabaseConfig          `mapstructure:"database"`
	Blob       BlobConfig              `mapstructure:"blob"`
	Signing    SigningConfig           `mapstructure:"signing"`
	Classifier classifier.Config       `mapstructure:"classifier"`
	Pipeline   PipelineConfig          `mapstructure:"pipeline"`
	Log        observability.LogConfig `mapstructure:"log"`
}

type ServerConfig struct {
	GRPCPort    int `mapstructure:"grpc_port"`
	HTTPPort    int `mapstructure:"http_port"`
	MetricsPort int `mapstructure:"metrics_port"`
	// APIKeys guard both APIs. Empty disables authentication.
	APIKeys              []string      `mapstructure:"api_keys"`
	MaxUploadBytes       int64         `mapstructure:"max_upload_bytes"`
	MaxConcurrentUploads int64         `mapstructure:"max_concurrent_uploads"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
	TraceStdout          bool          `mapstructure:"trace_stdout"`
}

type DatabaseConfig struct {
	// DSN in URL form. Empty runs on the in-memory store.
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

type BlobConfig struct {
	// Driver is filesystem or minio.
	Driver    string              `mapstructure:"driver"`
	BaseDir   string              `mapstructure:"base_dir"`
	PublicURL string              `mapstructure:"public_url"`
	PathBase  string              `mapstructure:"path_base"`
	MinIO     storage.MinIOConfig `mapstructure:"minio"`
}

type SigningConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	CacheSize int           `mapstructure:"cache_size"`
}

type StageSettings struct {
	ChunkSize   int `mapstructure:"chunk_size"`
	Parallelism int `mapstructure:"parallelism"`
	Workers     int `mapstructure:"workers"`
}

type PipelineConfig struct {
	RulesPath    string                   `mapstructure:"rules_path"`
	WatchRules   bool                     `mapstructure:"watch_rules"`
	PollInterval time.Duration            `mapstructure:"poll_interval"`
	Lease        time.Duration            `mapstructure:"lease"`
	Stages       map[string]StageSettings `mapstructure:"stages"`
}

// Stage returns the settings for name, falling back to the defaults.
func (p PipelineConfig) Stage(name string) StageSettings {
	s, ok := p.Stages[name]
	if !ok {
		s = p.Stages["default"]
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = 50
	}
	if s.Parallelism <= 0 {
		s.Parallelism = 4
	}
	if s.Workers <= 0 {
		s.Workers = 1
	}
	return s
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 0)
	v.SetDefault("server.api_keys", []string{})
	v.SetDefault("server.max_upload_bytes", 100<<20)
	v.SetDefault("server.max_concurrent_uploads", 10)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.trace_stdout", false)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("blob.driver", "filesystem")
	v.SetDefault("blob.base_dir", "./data/blobs")
	v.SetDefault("blob.public_url", "")
	v.SetDefault("blob.path_base", "")
	v.SetDefault("blob.minio.endpoint", "")
	v.SetDefault("blob.minio.access_key", "")
	v.SetDefault("blob.minio.secret_key", "")
	v.SetDefault("blob.minio.bucket", "filebox")
	v.SetDefault("blob.minio.region", "")
	v.SetDefault("blob.minio.use_ssl", false)

	v.SetDefault("signing.ttl", 30*24*time.Hour)
	v.SetDefault("signing.cache_size", 4096)

	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.endpoint", classifier.DefaultEndpoint)
	v.SetDefault("classifier.api_key", "")
	v.SetDefault("classifier.timeout", 10*time.Second)
	v.SetDefault("classifier.max_elapsed", 30*time.Second)

	v.SetDefault("pipeline.rules_path", "./config/rules.yaml")
	v.SetDefault("pipeline.watch_rules", true)
	v.SetDefault("pipeline.poll_interval", 2*time.Second)
	v.SetDefault("pipeline.lease", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file", "./logs/filebox.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}

// Load reads settings from path (optional), then FILEBOX_* environment
// variables, then defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FILEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Blob.Driver {
	case "filesystem":
		if c.Blob.BaseDir == "" {
			return fmt.Errorf("blob.base_dir is required for the filesystem driver")
		}
	case "minio":
		if c.Blob.MinIO.Endpoint == "" || c.Blob.MinIO.Bucket == "" {
			return fmt.Errorf("blob.minio.endpoint and blob.minio.bucket are required for the minio driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Signing.TTL <= 0 {
		return fmt.Errorf("signing.ttl must be positive")
	}
	if c.Server.MaxConcurrentUploads <= 0 {
		return fmt.Errorf("server.max_concurrent_uploads must be positive")
	}
	return nil
}
