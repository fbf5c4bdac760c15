// Package config loads complianced settings from flags, environment, .env and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	StoreDriverGorm = "gorm"
	StoreDriverPgx  = "pgx"

	envPrefix = "COMPLIANCE"

	FlagConfigFile      = "config"
	FlagEnvFile         = "env-file"
	FlagListenAddr      = "listen-addr"
	FlagGRPCListenAddr  = "grpc-listen-addr"
	FlagDatabaseURL     = "database-url"
	FlagStoreDriver     = "store-driver"
	FlagAllowedOrigins  = "allowed-origins"
	FlagTargetIntensity = "target-intensity"
	FlagRequestTimeout  = "request-timeout"
	FlagLogLevel        = "log-level"
	FlagLogDevelopment  = "log-development"
	FlagAutoMigrate     = "auto-migrate"

	keyListenAddr      = "listen_addr"
	keyGRPCListenAddr  = "grpc_listen_addr"
	keyDatabaseURL     = "database_url"
	keyStoreDriver     = "store_driver"
	keyAllowedOrigins  = "allowed_origins"
	keyTargetIntensity = "target_intensity"
	keyRequestTimeout  = "request_timeout"
	keyLogLevel        = "log_level"
	keyLogDevelopment  = "log_development"
	keyAutoMigrate     = "auto_migrate"

	defaultListenAddr      = ":8080"
	defaultGRPCListenAddr  = ":7000"
	defaultDatabaseURL     = "sqlite:///tmp/complianced.db"
	defaultAllowedOrigin   = "http://localhost:5173"
	defaultTargetIntensity = "89.3368"
	defaultRequestTimeout  = 5 * time.Second
	defaultLogLevel        = "info"
	defaultDotEnvFile      = ".env"
)

// Config aggregates runtime settings for complianced.
type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	GRPCListenAddr  string        `mapstructure:"grpc_listen_addr"`
	DatabaseURL     string        `mapstructure:"database_url"`
	StoreDriver     string        `mapstructure:"store_driver"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TargetIntensity string        `mapstructure:"target_intensity"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
	LogDevelopment  bool          `mapstructure:"log_development"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`

	target decimal.Decimal
	level  zapcore.Level
}

// RegisterFlags declares every setting on flags. Flag defaults double as configuration defaults.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(FlagConfigFile, "", "Path to a YAML config file")
	flags.String(FlagEnvFile, "", "Path to a .env file (default .env when present)")
	flags.String(FlagListenAddr, defaultListenAddr, "HTTP listen address")
	flags.String(FlagGRPCListenAddr, defaultGRPCListenAddr, "gRPC health listen address")
	flags.String(FlagDatabaseURL, defaultDatabaseURL, "Database URL (postgres:// or sqlite://)")
	flags.String(FlagStoreDriver, StoreDriverGorm, "Store implementation: gorm or pgx")
	flags.StringSlice(FlagAllowedOrigins, []string{defaultAllowedOrigin}, "CORS allowed origins")
	flags.String(FlagTargetIntensity, defaultTargetIntensity, "Target GHG intensity in gCO2e/MJ")
	flags.Duration(FlagRequestTimeout, defaultRequestTimeout, "Per-request store timeout")
	flags.String(FlagLogLevel, defaultLogLevel, "Log level (debug, info, warn, error)")
	flags.Bool(FlagLogDevelopment, false, "Use the human-readable development logger")
	flags.Bool(FlagAutoMigrate, true, "Auto-migrate the schema on serve")
}

// Load resolves settings with precedence flag > environment > config file > flag default.
func Load(flags *pflag.FlagSet) (Config, error) {
	envFile, err := flags.GetString(FlagEnvFile)
	if err != nil {
		return Config{}, err
	}
	if err := loadDotEnv(envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		keyListenAddr:      FlagListenAddr,
		keyGRPCListenAddr:  FlagGRPCListenAddr,
		keyDatabaseURL:     FlagDatabaseURL,
		keyStoreDriver:     FlagStoreDriver,
		keyAllowedOrigins:  FlagAllowedOrigins,
		keyTargetIntensity: FlagTargetIntensity,
		keyRequestTimeout:  FlagRequestTimeout,
		keyLogLevel:        FlagLogLevel,
		keyLogDevelopment:  FlagLogDevelopment,
		keyAutoMigrate:     FlagAutoMigrate,
	}
	for key, flagName := range bindings {
		if err := v.BindEnv(key); err != nil {
			return Config{}, err
		}
		if err := v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			return Config{}, err
		}
	}

	configFile, err := flags.GetString(FlagConfigFile)
	if err != nil {
		return Config{}, err
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AllowedOrigins = ParseAllowedOrigins(strings.Join(cfg.AllowedOrigins, ","))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate applies defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGorm))
	cfg.TargetIntensity = defaultIfEmpty(cfg.TargetIntensity, defaultTargetIntensity)
	cfg.LogLevel = defaultIfEmpty(cfg.LogLevel, defaultLogLevel)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}

	switch cfg.StoreDriver {
	case StoreDriverGorm:
	case StoreDriverPgx:
		if !IsPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("store driver %q requires a postgres database url", StoreDriverPgx)
		}
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	target, err := decimal.NewFromString(strings.TrimSpace(cfg.TargetIntensity))
	if err != nil {
		return fmt.Errorf("target intensity: %w", err)
	}
	if !target.IsPositive() {
		return errors.New("target intensity must be positive")
	}
	cfg.target = target

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	cfg.level = level
	return nil
}

// Target returns the parsed target intensity. Valid after Validate.
func (cfg Config) Target() decimal.Decimal {
	return cfg.target
}

// Level returns the parsed log level. Valid after Validate.
func (cfg Config) Level() zapcore.Level {
	return cfg.level
}

// IsPostgresURL reports whether the url addresses a PostgreSQL server.
func IsPostgresURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://")
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func loadDotEnv(path string) error {
	if path != "" {
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	// Missing default .env is fine; existing environment wins.
	_ = godotenv.Load(defaultDotEnvFile)
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
