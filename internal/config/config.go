package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultCacheTTL is used when cache.ttl is empty or invalid. Zero disables expiry.
	DefaultCacheTTL = time.Duration(0)
	// DefaultReapInterval is used when cache.reap_interval is empty or invalid.
	DefaultReapInterval = time.Minute
	// DefaultFallbackHeapBytes is reported as heap capacity when no runtime memory limit is set.
	DefaultFallbackHeapBytes = int64(1 << 30)
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	LogFile  struct {
		Path       string `mapstructure:"path"`        // Empty disables file output.
		MaxSize    int    `mapstructure:"max_size"`    // Megabytes before rotation.
		MaxBackups int    `mapstructure:"max_backups"` // Rotated files to keep.
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"log_file"`
	Server struct {
		Port           int    `mapstructure:"port"`
		Address        string `mapstructure:"address"`
		MaxConnections int    `mapstructure:"max_connections"` // Zero means unlimited.
	} `mapstructure:"server"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	GRPC struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"grpc"`
	Cache struct {
		Enabled           bool   `mapstructure:"enabled"`
		CapPercent        int    `mapstructure:"cap_percent"`
		HardCapPercentage int    `mapstructure:"hard_cap_percentage"`
		SoftCapPercentage int    `mapstructure:"soft_cap_percentage"`
		HeapBytes         int64  `mapstructure:"heap_bytes"`          // Fixed heap capacity; zero reads the runtime memory limit.
		FallbackHeapBytes int64  `mapstructure:"fallback_heap_bytes"` // Used when no runtime memory limit is set.
		TTL               string `mapstructure:"ttl"`                 // Go duration string like "10m"; empty disables expiry.
		ReapInterval      string `mapstructure:"reap_interval"`       // Go duration string like "1m".
	} `mapstructure:"cache"`
	Cluster struct {
		Enabled        bool   `mapstructure:"enabled"`
		RedisAddress   string `mapstructure:"redis_address"`
		RedisPassword  string `mapstructure:"redis_password"`
		RedisDB        int    `mapstructure:"redis_db"`
		Channel        string `mapstructure:"channel"`
		PublishRetries int    `mapstructure:"publish_retries"`
	} `mapstructure:"cluster"`
	Sentry struct {
		DSN         string `mapstructure:"dsn"` // Empty disables error reporting.
		Environment string `mapstructure:"environment"`
	} `mapstructure:"sentry"`
}

var (
	globalConfig *Config
	logger       zerolog.Logger
)

func init() {
	// Initialize zerolog with console writer for human-readable output
	logger = zerolog.New(zerolog.ConsoleWriter{
		Out:     os.Stdout,
		NoColor: false,
	}).With().Timestamp().Logger()

	config, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	// Parse and set log level from config
	level := zerolog.InfoLevel // default
	if config.LogLevel != "" {
		if parsedLevel, err := zerolog.ParseLevel(config.LogLevel); err == nil {
			level = parsedLevel
		} else {
			logger.Warn().Str("invalid_level", config.LogLevel).Msg("Invalid log level, using default 'info'")
		}
	}

	// Set the global log level
	zerolog.SetGlobalLevel(level)

	output, outErr := buildOutput(config)
	logger = zerolog.New(output).With().Timestamp().Logger().Level(level)
	if outErr != nil {
		logger.Warn().Err(outErr).Str("path", config.LogFile.Path).Msg("Falling back to console logging")
	}

	logger.Info().Str("level", level.String()).Msg("Logging configured")
	globalConfig = config
	logger.Info().Msg("Configuration loaded successfully")
}

// buildOutput returns the console writer, teed into a rotating file when log_file.path is set.
// On failure the console writer is returned together with the error.
func buildOutput(cfg *Config) (io.Writer, error) {
	console := zerolog.ConsoleWriter{Out: os.Stdout, NoColor: false}
	if cfg.LogFile.Path == "" {
		return console, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile.Path), 0o755); err != nil {
		return console, fmt.Errorf("create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile.Path,
		MaxSize:    cfg.LogFile.MaxSize,
		MaxBackups: cfg.LogFile.MaxBackups,
		Compress:   cfg.LogFile.Compress,
		LocalTime:  true,
	}
	return zerolog.MultiLevelWriter(console, rotator), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file.max_size", 100)
	v.SetDefault("log_file.max_backups", 3)
	v.SetDefault("server.address", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("grpc.enabled", false)
	v.SetDefault("grpc.port", 8081)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.cap_percent", 25)
	v.SetDefault("cache.hard_cap_percentage", 90)
	v.SetDefault("cache.soft_cap_percentage", 75)
	v.SetDefault("cache.fallback_heap_bytes", DefaultFallbackHeapBytes)
	v.SetDefault("cache.reap_interval", DefaultReapInterval.String())
	v.SetDefault("cluster.enabled", false)
	v.SetDefault("cluster.redis_address", "localhost:6379")
	v.SetDefault("cluster.channel", "cache:invalidation")
	v.SetDefault("cluster.publish_retries", 3)
	v.SetDefault("sentry.environment", "production")
}

func LoadConfig() (*Config, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variable support
	v.AutomaticEnv()
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Add specific environment variable for log level
	_ = v.BindEnv("log_level", "LOG_LEVEL")

	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// CacheTTL returns the parsed cache.ttl, falling back to DefaultCacheTTL on an invalid value.
func (c *Config) CacheTTL() time.Duration {
	return parseDuration("cache.ttl", c.Cache.TTL, DefaultCacheTTL)
}

// ReapInterval returns the parsed cache.reap_interval, falling back to DefaultReapInterval on an
// invalid value.
func (c *Config) ReapInterval() time.Duration {
	return parseDuration("cache.reap_interval", c.Cache.ReapInterval, DefaultReapInterval)
}

func parseDuration(key, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		logger.Warn().Str(key, value).Dur("default", fallback).Msg("Invalid duration, using default")
		return fallback
	}
	return d
}

func GetConfig() *Config {
	return globalConfig
}

func GetLogger() zerolog.Logger {
	return logger
}
