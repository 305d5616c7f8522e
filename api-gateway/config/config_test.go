package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaspozo/elevenvoice/internal/segments"
)

func setRequired(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("ELEVENLABS_API_KEY", "xi-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "*", cfg.CORSOrigins)
	assert.Equal(t, time.Minute, cfg.SignedURLTTL)
	assert.Equal(t, "conversations", cfg.Supabase.Bucket)
	assert.Equal(t, "https://api.elevenlabs.io/v1", cfg.ElevenLabs.BaseURL)
	assert.Equal(t, segments.DefaultOptions(), cfg.SegmentOptions())
}

func TestLoadRequiresCredentials(t *testing.T) {
	setRequired(t)
	t.Setenv("SUPABASE_SERVICE_KEY", "")
	_, err := Load()
	assert.ErrorContains(t, err, "SUPABASE_SERVICE_KEY")

	setRequired(t)
	t.Setenv("ELEVENLABS_API_KEY", "")
	_, err = Load()
	assert.ErrorContains(t, err, "ELEVENLABS_API_KEY")
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9000")
	t.Setenv("SIGNED_URL_TTL", "5m")
	t.Setenv("SEGMENT_PADDING", "0s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.SignedURLTTL)
	assert.Zero(t, cfg.SegmentOptions().Padding)
}
