package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tomaspozo/elevenvoice/audio-processor/internal/config"
	"github.com/tomaspozo/elevenvoice/audio-processor/internal/ffmpeg"
	"github.com/tomaspozo/elevenvoice/internal/audiohash"
	"github.com/tomaspozo/elevenvoice/internal/db"
	"github.com/tomaspozo/elevenvoice/internal/segments"
)

type extractOptions struct {
	audioPath      string
	transcriptPath string
	outPath        string
	segmentsOut    string
	ledgerPath     string
	strategy       string
}

func newExtractCmd() *cobra.Command {
	var opts extractOptions
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Cut the user's speech out of a local recording",
		Long: "Derives the user segments from a transcript (JSON or YAML, either a list of\n" +
			"entries or a conversation object with a \"transcript\" field) and writes an MP3\n" +
			"holding only those segments.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadLocal()
			if err != nil {
				return err
			}
			if opts.strategy != "" {
				cfg.FFmpeg.Strategy = opts.strategy
			}
			log := config.NewLogger(cfg.LogLevel)
			log.SetOutput(cmd.ErrOrStderr())
			return runExtract(cmd, cfg, opts, log)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.audioPath, "audio", "", "source MP3 recording")
	f.StringVar(&opts.transcriptPath, "transcript", "", "transcript file (.json, .yaml or .yml)")
	f.StringVar(&opts.outPath, "out", "", "where to write the user-only MP3")
	f.StringVar(&opts.segmentsOut, "segments-out", "", "optional JSON file for the applied segments")
	f.StringVar(&opts.ledgerPath, "ledger", "", "optional SQLite ledger recording this extraction")
	f.StringVar(&opts.strategy, "strategy", "", "auto, filtergraph or demuxer (overrides FFMPEG_STRATEGY)")
	for _, name := range []string{"audio", "transcript", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runExtract(cmd *cobra.Command, cfg *config.LocalConfig, opts extractOptions, log *logrus.Logger) error {
	ctx := cmd.Context()

	if _, err := ffmpeg.ParseStrategy(cfg.FFmpeg.Strategy); err != nil {
		return err
	}

	transcript, err := loadTranscript(opts.transcriptPath)
	if err != nil {
		return err
	}
	userSegments, err := segments.DeriveUserSegments(transcript, cfg.Segments.Options())
	if err != nil {
		return err
	}

	source, err := os.ReadFile(opts.audioPath)
	if err != nil {
		return fmt.Errorf("reading audio: %w", err)
	}
	sourceHash := audiohash.FromBytes(source)

	var ledger *db.SQLiteStore
	if opts.ledgerPath != "" {
		ledger, err = db.OpenSQLite(opts.ledgerPath)
		if err != nil {
			return err
		}
		defer ledger.Close()

		prev, err := ledger.LatestExtraction(ctx, sourceHash)
		switch {
		case err == nil:
			log.WithFields(logrus.Fields{
				"extraction_id": prev.ID,
				"user_hash":     prev.UserAudioHash,
				"at":            prev.CreatedAt,
			}).Info("Source audio was extracted before")
		case !errors.Is(err, db.ErrRecordNotFound):
			return err
		}
	}

	extractor := ffmpeg.NewExtractor(cfg.FFmpeg.ExtractorConfig(), ffmpeg.WithLogger(log))
	res, err := extractor.ExtractUserAudio(ctx, bytes.NewReader(source), userSegments)
	if err != nil {
		return err
	}

	if err := os.WriteFile(opts.outPath, res.Audio, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	if opts.segmentsOut != "" {
		b, err := json.MarshalIndent(res.Applied, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.segmentsOut, append(b, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing segments: %w", err)
		}
	}

	userHash := audiohash.FromBytes(res.Audio)
	if ledger != nil {
		_, err := ledger.RecordExtraction(ctx, db.Extraction{
			SourceName:      filepath.Base(opts.audioPath),
			SourceAudioHash: sourceHash,
			UserAudioHash:   userHash,
			UserSegments:    res.Applied,
			DroppedSegments: res.Dropped,
			Strategy:        string(res.Strategy),
			SourceDuration:  res.SourceDuration,
		})
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d segments, %.3fs of speech, strategy %s, blake3 %s\n",
		opts.outPath, len(res.Applied), segments.TotalDuration(res.Applied), res.Strategy, userHash)
	return nil
}

// loadTranscript reads a transcript from JSON or YAML. Both a bare list of
// entries and a conversation object with a "transcript" field are accepted.
// An empty list is a transcript without turns; an empty file is rejected.
func loadTranscript(path string) ([]segments.TranscriptEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	var unmarshal func([]byte, interface{}) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		unmarshal = json.Unmarshal
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("unsupported transcript format %q", filepath.Ext(path))
	}

	var entries []segments.TranscriptEntry
	if err := unmarshal(data, &entries); err == nil {
		// An empty document or null decodes to nil; an empty list does not.
		if entries == nil {
			return nil, fmt.Errorf("%w: %s is empty", segments.ErrTranscriptUnavailable, path)
		}
		return entries, nil
	}

	var conversation struct {
		Transcript []segments.TranscriptEntry `json:"transcript" yaml:"transcript"`
	}
	if err := unmarshal(data, &conversation); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", segments.ErrTranscriptUnavailable, path, err)
	}
	if conversation.Transcript == nil {
		return nil, fmt.Errorf("%w: %s has no transcript", segments.ErrTranscriptUnavailable, path)
	}
	return conversation.Transcript, nil
}
