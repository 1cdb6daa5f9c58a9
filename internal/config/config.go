// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/parcelworks/geoharvest/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// RegistryConfig locates the source registry and discovery target files.
type RegistryConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	TargetsPath string `yaml:"targets_path" mapstructure:"targets_path"`
	// DataDir is scanned for loose geodata files to register.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// CatalogConfig configures the browser-driven dataset locator.
type CatalogConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	IDPrefix         string `yaml:"id_prefix" mapstructure:"id_prefix"`
	StageTimeoutSecs int    `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	BrowserPath      string `yaml:"browser_path" mapstructure:"browser_path"`
	Headful          bool   `yaml:"headful" mapstructure:"headful"`
}

// FetchConfig configures the download client.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// IngestConfig tunes the ingestion run.
type IngestConfig struct {
	Workers           int `yaml:"workers" mapstructure:"workers"`
	SourceTimeoutMins int `yaml:"source_timeout_mins" mapstructure:"source_timeout_mins"`
}

// PostgresConfig configures the PostGIS destination.
type PostgresConfig struct {
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// SQLiteConfig configures the local mirror destination.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("registry.path", "sources.yaml")
	v.SetDefault("registry.targets_path", "targets.yaml")
	v.SetDefault("registry.data_dir", "data")
	v.SetDefault("catalog.base_url", "https://data.gis.ny.gov")
	v.SetDefault("catalog.id_prefix", "nys")
	v.SetDefault("catalog.stage_timeout_secs", 20)
	v.SetDefault("fetch.user_agent", "geoharvest/1.0")
	v.SetDefault("fetch.timeout_secs", 300)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.temp_dir", "/tmp/geoharvest")
	v.SetDefault("ingest.workers", 2)
	v.SetDefault("ingest.source_timeout_mins", 30)
	v.SetDefault("sqlite.path", "geoharvest.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
