package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/ledgerline/reconcile/internal/reconcile"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Storage   StorageConfig           `mapstructure:"storage"`
	OpenAI    OpenAIConfig            `mapstructure:"openai"`
	Jobs      JobsConfig              `mapstructure:"jobs"`
	Events    EventsConfig            `mapstructure:"events"`
	Reconcile reconcile.ScoringConfig `mapstructure:"reconcile"`
	Logger    LoggerConfig            `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BaseURL      string        `mapstructure:"base_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig holds document blob storage configuration
type StorageConfig struct {
	Root          string        `mapstructure:"root"`
	SigningSecret string        `mapstructure:"signing_secret"`
	PresignTTL    time.Duration `mapstructure:"presign_ttl"`
}

// OpenAIConfig holds OpenAI API configuration. The document processor is only
// registered when an API key is present.
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// JobsConfig holds processing job execution configuration
type JobsConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// EventsConfig holds event bus configuration
type EventsConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.base_url", "http://localhost:8080")

	// Database defaults
	viper.SetDefault("database.path", "data/reconcile.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Storage defaults
	viper.SetDefault("storage.root", "data/objects")
	viper.SetDefault("storage.presign_ttl", 15*time.Minute)

	// OpenAI defaults
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.temperature", 0.1)
	viper.SetDefault("openai.max_tokens", 2000)
	viper.SetDefault("openai.timeout", 60*time.Second)

	// Job defaults
	viper.SetDefault("jobs.max_concurrent", 4)
	viper.SetDefault("jobs.timeout", 5*time.Minute)

	// Event defaults
	viper.SetDefault("events.buffer", 16)

	// Reconcile scoring defaults
	scoring := reconcile.DefaultScoringConfig()
	viper.SetDefault("reconcile.amount_tolerance", scoring.AmountTolerance)
	viper.SetDefault("reconcile.partial_match_threshold", scoring.PartialMatchThreshold)
	viper.SetDefault("reconcile.exact_amount_weight", scoring.ExactAmountWeight)
	viper.SetDefault("reconcile.partial_amount_weight", scoring.PartialAmountWeight)
	viper.SetDefault("reconcile.reference_weight", scoring.ReferenceWeight)
	viper.SetDefault("reconcile.name_match_weight", scoring.NameMatchWeight)
	viper.SetDefault("reconcile.date_close_weight", scoring.DateCloseWeight)
	viper.SetDefault("reconcile.date_near_weight", scoring.DateNearWeight)
	viper.SetDefault("reconcile.date_close_days", scoring.DateCloseDays)
	viper.SetDefault("reconcile.date_near_days", scoring.DateNearDays)
	viper.SetDefault("reconcile.suggestion_floor", scoring.SuggestionFloor)
	viper.SetDefault("reconcile.auto_match_threshold", scoring.AutoMatchThreshold)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("storage.signing_secret", "STORAGE_SIGNING_SECRET")
	viper.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.Storage.SigningSecret == "" {
		return fmt.Errorf("storage.signing_secret is required")
	}

	if c.Reconcile.AmountTolerance <= 0 {
		return fmt.Errorf("reconcile.amount_tolerance must be positive")
	}
	if c.Reconcile.PartialMatchThreshold <= 0 || c.Reconcile.PartialMatchThreshold > 1 {
		return fmt.Errorf("reconcile.partial_match_threshold must be in (0, 1]")
	}
	if c.Reconcile.AutoMatchThreshold <= 0 || c.Reconcile.AutoMatchThreshold > 1 {
		return fmt.Errorf("reconcile.auto_match_threshold must be in (0, 1]")
	}
	if c.Reconcile.DateCloseDays <= 0 || c.Reconcile.DateNearDays < c.Reconcile.DateCloseDays {
		return fmt.Errorf("reconcile date buckets must satisfy 0 < date_close_days <= date_near_days")
	}

	return nil
}
