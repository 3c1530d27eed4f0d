// pkg/config/narrative.go
package config

import (
	"errors"
	"time"
)

// NarrativeConfig holds settings for the external text-generation service
type NarrativeConfig struct {
	APIKey      string // Supplied out-of-band; an empty key surfaces as per-wallet call failures
	BaseURL     string // Optional override for OpenAI-compatible gateways
	Model       string
	Temperature float32

	// Bounded retry per wallet
	RetryAttempts int
	RetryDelay    time.Duration

	// Maximum in-flight calls to the service
	Concurrency int
}

// LoadNarrativeConfig loads narrative service configuration from environment variables
func LoadNarrativeConfig() *NarrativeConfig {
	return &NarrativeConfig{
		APIKey:        getEnv("OPENAI_API_KEY", ""),
		BaseURL:       getEnv("OPENAI_BASE_URL", ""),
		Model:         getEnv("NARRATIVE_MODEL", "gpt-4"),
		Temperature:   float32(getEnvAsFloat("NARRATIVE_TEMPERATURE", 0.3)),
		RetryAttempts: getEnvAsInt("NARRATIVE_RETRY_ATTEMPTS", 3),
		RetryDelay:    time.Duration(getEnvAsInt("NARRATIVE_RETRY_DELAY_MS", 2000)) * time.Millisecond,
		Concurrency:   getEnvAsInt("NARRATIVE_CONCURRENCY", 10),
	}
}

// Validate ensures narrative settings are usable
func (c *NarrativeConfig) Validate() error {
	if c.Model == "" {
		return errors.New("narrative model cannot be empty")
	}

	if c.RetryAttempts < 1 {
		return errors.New("narrative retry attempts must be at least 1")
	}

	if c.Concurrency < 1 {
		return errors.New("narrative concurrency must be at least 1")
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("narrative temperature must be between 0 and 2")
	}

	return nil
}
