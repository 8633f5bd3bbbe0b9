// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Profile  ProfileConfig  `yaml:"profile" mapstructure:"profile"`
	Suggest  SuggestConfig  `yaml:"suggest" mapstructure:"suggest"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RegistryConfig configures field-name canonicalization.
type RegistryConfig struct {
	// AliasFile is an optional YAML file of extra field-name aliases,
	// merged over the built-in table.
	AliasFile string `yaml:"alias_file" mapstructure:"alias_file"`
}

// ProfileConfig configures aggregation behavior.
type ProfileConfig struct {
	// AcceptThreshold is the confidence at or above which a single-source
	// value is accepted without review.
	AcceptThreshold float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	CacheTTLSecs    int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	LockTimeoutSecs int     `yaml:"lock_timeout_secs" mapstructure:"lock_timeout_secs"`
}

// CacheTTL returns the snapshot TTL as a duration.
func (c ProfileConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// LockTimeout returns the per-entity write lock timeout as a duration.
func (c ProfileConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSecs) * time.Second
}

// SuggestConfig configures suggestion ranking.
type SuggestConfig struct {
	WeightSimilarity  float64 `yaml:"weight_similarity" mapstructure:"weight_similarity"`
	WeightConfidence  float64 `yaml:"weight_confidence" mapstructure:"weight_confidence"`
	WeightRecency     float64 `yaml:"weight_recency" mapstructure:"weight_recency"`
	WeightSourceCount float64 `yaml:"weight_source_count" mapstructure:"weight_source_count"`
	HalfLifeDays      float64 `yaml:"half_life_days" mapstructure:"half_life_days"`
	MaxResults        int     `yaml:"max_results" mapstructure:"max_results"`
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	// MaxConcurrentFiles bounds how many input files ingest in parallel.
	MaxConcurrentFiles int `yaml:"max_concurrent_files" mapstructure:"max_concurrent_files"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// SuggestRatePerSec throttles the suggestion endpoint; burst is the
	// same value.
	SuggestRatePerSec float64 `yaml:"suggest_rate_per_sec" mapstructure:"suggest_rate_per_sec"`
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
	v.SetEnvPrefix("PROFILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "profiles.db")
	v.SetDefault("profile.accept_threshold", 0.7)
	v.SetDefault("profile.cache_ttl_secs", 300)
	v.SetDefault("profile.lock_timeout_secs", 10)
	v.SetDefault("suggest.weight_similarity", 0.4)
	v.SetDefault("suggest.weight_confidence", 0.3)
	v.SetDefault("suggest.weight_recency", 0.2)
	v.SetDefault("suggest.weight_source_count", 0.1)
	v.SetDefault("suggest.half_life_days", 30)
	v.SetDefault("suggest.max_results", 5)
	v.SetDefault("ingest.max_concurrent_files", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.suggest_rate_per_sec", 20)
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
