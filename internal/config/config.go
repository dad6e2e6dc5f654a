// Package config loads runtime settings for the workspace tools from
// .wsmodel.yaml, WSMODEL_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"workspacemodel/internal/blob"
	"workspacemodel/internal/storage"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "WSMODEL"

// ImportConfig controls project descriptor imports.
type ImportConfig struct {
	// System names the external system recorded as the source of imported
	// entities. Re-imports replace entities from the same system only.
	System string `mapstructure:"system"`
	// Coordinates is an optional YAML file of artifact coordinates used for
	// dependency substitution after import.
	Coordinates string `mapstructure:"coordinates"`
}

// JournalConfig selects the database that records committed write actions.
// An empty driver disables the journal.
type JournalConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Config holds all runtime configuration.
type Config struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	ConflictPolicy   string        `mapstructure:"conflict_policy"`
	MetricsNamespace string        `mapstructure:"metrics_namespace"`
	Import           ImportConfig  `mapstructure:"import"`
	Store            blob.Config   `mapstructure:"store"`
	Journal          JournalConfig `mapstructure:"journal"`
}

// SetDefaults installs the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("conflict_policy", storage.SourceWins.String())
	v.SetDefault("metrics_namespace", "wsmodel")
	v.SetDefault("import.system", "yaml")
	v.SetDefault("import.coordinates", "")
	v.SetDefault("store.driver", string(blob.DriverFilesystem))
	v.SetDefault("store.root", ".")
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.region", "")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.path_style", false)
	v.SetDefault("store.s3.access_key_id", "")
	v.SetDefault("store.s3.secret_access_key", "")
	v.SetDefault("journal.driver", "")
	v.SetDefault("journal.dsn", "")
}

// New returns a viper instance wired for env overrides and, when file is
// empty, an optional .wsmodel.yaml in the working directory.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		return v, nil
	}
	v.SetConfigName(".wsmodel")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if _, err := cfg.Policy(); err != nil {
		return Config{}, err
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("log_level: %w", err)
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		return Config{}, fmt.Errorf("log_format must be console or json, got %q", cfg.LogFormat)
	}
	if cfg.Import.System == "" {
		return Config{}, fmt.Errorf("import.system must not be empty")
	}
	switch blob.Driver(cfg.Store.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if cfg.Store.S3.Bucket == "" {
			return Config{}, fmt.Errorf("store.s3.bucket is required for the s3 driver")
		}
	default:
		return Config{}, fmt.Errorf("store.driver must be fs, s3 or memory, got %q", cfg.Store.Driver)
	}
	switch cfg.Journal.Driver {
	case "":
	case "sqlite", "postgres":
		if cfg.Journal.DSN == "" {
			return Config{}, fmt.Errorf("journal.dsn is required when journal.driver is set")
		}
	default:
		return Config{}, fmt.Errorf("journal.driver must be sqlite or postgres, got %q", cfg.Journal.Driver)
	}
	return cfg, nil
}

// Policy parses the configured conflict policy.
func (c Config) Policy() (storage.ConflictPolicy, error) {
	p, err := storage.ParseConflictPolicy(c.ConflictPolicy)
	if err != nil {
		return 0, fmt.Errorf("conflict_policy: %w", err)
	}
	return p, nil
}

// Logger builds a zap logger for the configured level and format.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
