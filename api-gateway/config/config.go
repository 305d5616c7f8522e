package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tomaspozo/elevenvoice/internal/segments"
)

// Config holds the API gateway settings.
type Config struct {
	Port         string        `env:"PORT" env-default:"8080"`
	LogLevel     string        `env:"LOG_LEVEL" env-default:"info"`
	CORSOrigins  string        `env:"CORS_ORIGINS" env-default:"*"`
	SignedURLTTL time.Duration `env:"SIGNED_URL_TTL" env-default:"60s" env-description:"lifetime of user.mp3 download links"`

	Supabase struct {
		URL        string `env:"SUPABASE_URL"`
		ServiceKey string `env:"SUPABASE_SERVICE_KEY"`
		Bucket     string `env:"STORAGE_BUCKET" env-default:"conversations"`
	}

	ElevenLabs struct {
		APIKey  string `env:"ELEVENLABS_API_KEY"`
		BaseURL string `env:"ELEVENLABS_BASE_URL" env-default:"https://api.elevenlabs.io/v1"`
		AgentID string `env:"ELEVENLABS_AGENT_ID"`
	}

	Segments struct {
		StartOffset      time.Duration `env:"SEGMENT_START_OFFSET" env-default:"1s"`
		FallbackDuration time.Duration `env:"SEGMENT_FALLBACK_DURATION" env-default:"5s"`
		Padding          time.Duration `env:"SEGMENT_PADDING" env-default:"100ms"`
	}
}

// Load reads CONFIG_PATH, when set, or the environment.
func Load() (*Config, error) {
	var cfg Config
	var err error
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	if cfg.Supabase.URL == "" || cfg.Supabase.ServiceKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}
	if cfg.ElevenLabs.APIKey == "" {
		return nil, fmt.Errorf("ELEVENLABS_API_KEY must be set")
	}
	if cfg.SignedURLTTL <= 0 {
		return nil, fmt.Errorf("SIGNED_URL_TTL must be positive")
	}
	return &cfg, nil
}

// SegmentOptions returns the derivation constants used for previews. They
// must match the processor's so previews agree with the extracted audio.
func (c *Config) SegmentOptions() segments.Options {
	return segments.Options{
		StartOffset:      c.Segments.StartOffset,
		FallbackDuration: c.Segments.FallbackDuration,
		Padding:          c.Segments.Padding,
	}
}
