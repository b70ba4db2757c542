// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (QUARRY_* plus DATABASE_URL)
//  2. Config file (~/.quarry/config.yaml or ./config.yaml)
//  3. Default values
//
// Validation is fail-fast: Load returns an error before any component is
// built from a bad configuration. Errors use sentinel values so callers can
// check with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbeddingDim indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDim = errors.New("invalid embedding dimension")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidAlpha indicates the keyword boost weight is out of range.
	ErrInvalidAlpha = errors.New("invalid keyword boost weight")

	// ErrInvalidBackend indicates the store backend is not supported.
	ErrInvalidBackend = errors.New("invalid store backend")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidTimeout indicates a timeout value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderOllama   = "ollama"
	ProviderGemini   = "gemini"
	ProviderGoogleAI = "googleai"
)

// Store backend identifiers used in Config.StoreBackend.
const (
	BackendPostgres = "postgres"
	BackendFlat     = "flat"
)

// DefaultEmbeddingDim is the vector dimensionality of the reference
// deployment (all-MiniLM class embedders). Ingestion aborts on any mismatch.
const DefaultEmbeddingDim = 384

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider"`
	ModelName     string  `mapstructure:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model"`
	EmbeddingDim  int     `mapstructure:"embedding_dim"`
	Temperature   float32 `mapstructure:"temperature"`
	OllamaHost    string  `mapstructure:"ollama_host"`

	// Generation timeout in seconds. LLM latency is highly variable, so this
	// is enforced independently of the surrounding request deadline.
	GenerateTimeoutSeconds int `mapstructure:"generate_timeout_seconds"`

	// Retrieval configuration
	StoreBackend string  `mapstructure:"store_backend"` // "postgres" or "flat"
	Alpha        float64 `mapstructure:"alpha"`         // keyword boost weight
	IndexDir     string  `mapstructure:"index_dir"`     // flat backend storage directory

	// PostgreSQL connection
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// HTTP server
	ServerAddr string `mapstructure:"server_addr"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".quarry")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOllama)
	v.SetDefault("model_name", "llama3.1:8b")
	v.SetDefault("embedder_model", "all-minilm")
	v.SetDefault("embedding_dim", DefaultEmbeddingDim)
	v.SetDefault("temperature", 0.2)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("generate_timeout_seconds", 60)

	v.SetDefault("store_backend", BackendPostgres)
	v.SetDefault("alpha", 0.15)
	v.SetDefault("index_dir", "storage/index")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "quarry")
	v.SetDefault("postgres_password", "quarry_dev_password")
	v.SetDefault("postgres_db_name", "quarry_kb")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("server_addr", "127.0.0.1:8080")
}
