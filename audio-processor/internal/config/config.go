package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tomaspozo/elevenvoice/audio-processor/internal/ffmpeg"
	"github.com/tomaspozo/elevenvoice/internal/segments"
)

const (
	JobStoreSupabase = "supabase"
	JobStoreSQLite   = "sqlite"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	GRPCAddr string `env:"GRPC_ADDR" env-default:":50051" env-description:"gRPC health service address"`

	JobStore   string `env:"JOB_STORE" env-default:"supabase" env-description:"supabase or sqlite"`
	SQLitePath string `env:"SQLITE_PATH" env-default:"elevenvoice.db"`
	// StorageDir switches blob storage to the local filesystem when set.
	StorageDir string `env:"STORAGE_DIR"`

	Supabase   SupabaseConfig
	ElevenLabs ElevenLabsConfig
	Worker     WorkerConfig
	FFmpeg     FFmpegConfig
	Segments   SegmentConfig
}

type SupabaseConfig struct {
	URL        string `env:"SUPABASE_URL"`
	ServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	Bucket     string `env:"STORAGE_BUCKET" env-default:"conversations"`
}

type ElevenLabsConfig struct {
	APIKey       string        `env:"ELEVENLABS_API_KEY"`
	BaseURL      string        `env:"ELEVENLABS_BASE_URL" env-default:"https://api.elevenlabs.io/v1"`
	FetchRetries int           `env:"AUDIO_FETCH_RETRIES" env-default:"3"`
	FetchDelay   time.Duration `env:"AUDIO_FETCH_DELAY" env-default:"10s"`
}

type WorkerConfig struct {
	Count             int           `env:"WORKER_COUNT" env-default:"2"`
	QueueSize         int           `env:"JOB_QUEUE_SIZE" env-default:"16"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" env-default:"5s"`
	AudioWaitAttempts int           `env:"AUDIO_WAIT_ATTEMPTS" env-default:"12"`
	AudioWaitInterval time.Duration `env:"AUDIO_WAIT_INTERVAL" env-default:"5s"`
}

type FFmpegConfig struct {
	FFmpegPath             string `env:"FFMPEG_PATH" env-default:"ffmpeg"`
	FFprobePath            string `env:"FFPROBE_PATH" env-default:"ffprobe"`
	WorkspaceRoot          string `env:"FFMPEG_WORKSPACE_ROOT" env-description:"parent of per-request workspaces, defaults to the OS temp dir"`
	Strategy               string `env:"FFMPEG_STRATEGY" env-default:"auto"`
	MaxFilterGraphSegments int    `env:"FFMPEG_MAX_FILTERGRAPH_SEGMENTS" env-default:"100"`
	MP3Quality             int    `env:"FFMPEG_MP3_QUALITY" env-default:"2"`
}

type SegmentConfig struct {
	StartOffset      time.Duration `env:"SEGMENT_START_OFFSET" env-default:"1s"`
	FallbackDuration time.Duration `env:"SEGMENT_FALLBACK_DURATION" env-default:"5s"`
	Padding          time.Duration `env:"SEGMENT_PADDING" env-default:"100ms"`
}

// Load reads the configuration from CONFIG_PATH, when set, and from the
// environment.
func Load() (*Config, error) {
	var cfg Config
	if err := read(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.JobStore {
	case JobStoreSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return fmt.Errorf("JOB_STORE=supabase needs SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
	case JobStoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("JOB_STORE=sqlite needs SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown JOB_STORE %q", c.JobStore)
	}
	if c.StorageDir == "" && (c.Supabase.URL == "" || c.Supabase.ServiceKey == "") {
		return fmt.Errorf("set STORAGE_DIR or SUPABASE_URL and SUPABASE_SERVICE_KEY for audio storage")
	}
	if err := c.FFmpeg.validate(); err != nil {
		return err
	}
	if c.Worker.Count < 1 || c.Worker.QueueSize < 1 {
		return fmt.Errorf("WORKER_COUNT and JOB_QUEUE_SIZE must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	return c.Segments.validate()
}

// ExtractorConfig maps the FFmpeg settings onto the extractor.
func (c FFmpegConfig) ExtractorConfig() ffmpeg.ExtractorConfig {
	strategy, _ := ffmpeg.ParseStrategy(c.Strategy)
	return ffmpeg.ExtractorConfig{
		EngineConfig: ffmpeg.EngineConfig{
			FFmpegPath:    c.FFmpegPath,
			FFprobePath:   c.FFprobePath,
			WorkspaceRoot: c.WorkspaceRoot,
		},
		Strategy:               strategy,
		MaxFilterGraphSegments: c.MaxFilterGraphSegments,
		MP3Quality:             c.MP3Quality,
	}
}

func (c FFmpegConfig) validate() error {
	if _, err := ffmpeg.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.MP3Quality < 0 || c.MP3Quality > 9 {
		return fmt.Errorf("FFMPEG_MP3_QUALITY must be between 0 and 9, got %d", c.MP3Quality)
	}
	return nil
}

func (c SegmentConfig) Options() segments.Options {
	return segments.Options{
		StartOffset:      c.StartOffset,
		FallbackDuration: c.FallbackDuration,
		Padding:          c.Padding,
	}
}

func (c SegmentConfig) validate() error {
	if c.FallbackDuration < 0 || c.StartOffset < 0 || c.Padding < 0 {
		return fmt.Errorf("segment offsets must not be negative")
	}
	return nil
}

// LocalConfig is the subset used by one-shot local extraction, which needs
// neither Supabase nor ElevenLabs.
type LocalConfig struct {
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	FFmpeg   FFmpegConfig
	Segments SegmentConfig
}

func LoadLocal() (*LocalConfig, error) {
	var cfg LocalConfig
	if err := read(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.FFmpeg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Segments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func read(cfg interface{}) error {
	var err error
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	return nil
}
