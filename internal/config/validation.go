package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for invalid or out-of-range values.
// Called by Load before any component is constructed (fail-fast).
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOllama, ProviderGemini, ProviderGoogleAI:
	default:
		return fmt.Errorf("%w: %q (must be one of: ollama, gemini, googleai)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidEmbedderModel)
	}

	// Practical bounds: small sentence embedders start around 128 dims,
	// large API embedders top out in the low thousands.
	if c.EmbeddingDim < 8 || c.EmbeddingDim > 8192 {
		return fmt.Errorf("%w: must be between 8 and 8192, got %d", ErrInvalidEmbeddingDim, c.EmbeddingDim)
	}

	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.Alpha < 0.0 || c.Alpha > 1.0 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.3f", ErrInvalidAlpha, c.Alpha)
	}

	if c.GenerateTimeoutSeconds < 1 || c.GenerateTimeoutSeconds > 600 {
		return fmt.Errorf("%w: generate_timeout_seconds must be between 1 and 600, got %d", ErrInvalidTimeout, c.GenerateTimeoutSeconds)
	}

	switch c.StoreBackend {
	case BackendPostgres:
		if strings.TrimSpace(c.PostgresHost) == "" {
			return fmt.Errorf("%w: must not be empty", ErrInvalidPostgresHost)
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
		}
		if strings.TrimSpace(c.PostgresDBName) == "" {
			return fmt.Errorf("%w: must not be empty", ErrInvalidPostgresDBName)
		}
	case BackendFlat:
		if strings.TrimSpace(c.IndexDir) == "" {
			return fmt.Errorf("%w: flat backend requires index_dir", ErrInvalidBackend)
		}
	default:
		return fmt.Errorf("%w: %q (must be %q or %q)", ErrInvalidBackend, c.StoreBackend, BackendPostgres, BackendFlat)
	}

	return nil
}
