package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaspozo/elevenvoice/audio-processor/internal/ffmpeg"
	"github.com/tomaspozo/elevenvoice/internal/segments"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("JOB_STORE", "sqlite")
	t.Setenv("STORAGE_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "conversations", cfg.Supabase.Bucket)
	assert.Equal(t, "https://api.elevenlabs.io/v1", cfg.ElevenLabs.BaseURL)
	assert.Equal(t, 3, cfg.ElevenLabs.FetchRetries)
	assert.Equal(t, 10*time.Second, cfg.ElevenLabs.FetchDelay)
	assert.Equal(t, 12, cfg.Worker.AudioWaitAttempts)
	assert.Equal(t, 5*time.Second, cfg.Worker.AudioWaitInterval)
	assert.Equal(t, segments.DefaultOptions(), cfg.Segments.Options())

	xc := cfg.FFmpeg.ExtractorConfig()
	assert.Equal(t, ffmpeg.StrategyAuto, xc.Strategy)
	assert.Equal(t, 100, xc.MaxFilterGraphSegments)
	assert.Equal(t, 2, xc.MP3Quality)
	assert.Equal(t, "ffmpeg", xc.FFmpegPath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("JOB_STORE", "supabase")
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("FFMPEG_STRATEGY", "demuxer")
	t.Setenv("SEGMENT_PADDING", "250ms")
	t.Setenv("WORKER_COUNT", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ffmpeg.StrategyDemuxer, cfg.FFmpeg.ExtractorConfig().Strategy)
	assert.Equal(t, 250*time.Millisecond, cfg.Segments.Options().Padding)
	assert.Equal(t, 4, cfg.Worker.Count)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("JOB_STORE", "sqlite")
	t.Setenv("STORAGE_DIR", t.TempDir())
	t.Setenv("FFMPEG_MP3_QUALITY", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.FFmpeg.MP3Quality)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			JobStore:   JobStoreSQLite,
			SQLitePath: "x.db",
			StorageDir: "/tmp/blobs",
			Worker:     WorkerConfig{Count: 1, QueueSize: 1, PollInterval: time.Second},
			FFmpeg:     FFmpegConfig{Strategy: "auto", MP3Quality: 2},
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	tests := map[string]func(c *Config){
		"unknown store":        func(c *Config) { c.JobStore = "mongo" },
		"supabase without key": func(c *Config) { c.JobStore = JobStoreSupabase },
		"no storage":           func(c *Config) { c.StorageDir = "" },
		"bad strategy":         func(c *Config) { c.FFmpeg.Strategy = "magic" },
		"bad quality":          func(c *Config) { c.FFmpeg.MP3Quality = 11 },
		"no workers":           func(c *Config) { c.Worker.Count = 0 },
		"negative padding":     func(c *Config) { c.Segments.Padding = -time.Second },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadLocal(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("FFMPEG_STRATEGY", "filtergraph")
	t.Setenv("SEGMENT_FALLBACK_DURATION", "3s")

	cfg, err := LoadLocal()
	require.NoError(t, err)
	assert.Equal(t, ffmpeg.StrategyFilterGraph, cfg.FFmpeg.ExtractorConfig().Strategy)
	assert.Equal(t, 3*time.Second, cfg.Segments.Options().FallbackDuration)

	t.Setenv("FFMPEG_STRATEGY", "magic")
	_, err = LoadLocal()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger("debug").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger("nonsense").GetLevel())
	_, ok := NewLogger("info").Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}
