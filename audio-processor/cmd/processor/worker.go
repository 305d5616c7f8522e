package main

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tomaspozo/elevenvoice/audio-processor/internal/config"
	"github.com/tomaspozo/elevenvoice/audio-processor/internal/ffmpeg"
	"github.com/tomaspozo/elevenvoice/audio-processor/internal/health"
	"github.com/tomaspozo/elevenvoice/audio-processor/internal/jobs"
	"github.com/tomaspozo/elevenvoice/audio-processor/internal/worker"
	"github.com/tomaspozo/elevenvoice/internal/db"
	"github.com/tomaspozo/elevenvoice/internal/elevenlabs"
	"github.com/tomaspozo/elevenvoice/internal/storage"
)

const healthCheckInterval = 30 * time.Second

type jobStore interface {
	db.JobStore
	db.ConversationStore
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the job worker until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := config.NewLogger(cfg.LogLevel)
			return runWorker(cmd.Context(), cfg, log)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.WithField("service", "audio-processor")
	logger.Info("Starting Audio Processor")

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := openBlobs(cfg, logger)
	if err != nil {
		return err
	}

	provider := elevenlabs.New(cfg.ElevenLabs.APIKey,
		elevenlabs.WithBaseURL(cfg.ElevenLabs.BaseURL),
		elevenlabs.WithLogger(logger),
		elevenlabs.WithAudioRetry(cfg.ElevenLabs.FetchRetries, cfg.ElevenLabs.FetchDelay),
	)
	extractor := ffmpeg.NewExtractor(cfg.FFmpeg.ExtractorConfig(), ffmpeg.WithLogger(logger))

	registry := jobs.NewRegistry(jobs.Deps{
		Conversations:  store,
		Blobs:          blobs,
		Provider:       provider,
		Extractor:      extractor,
		SegmentOptions: cfg.Segments.Options(),
		AudioWait: jobs.WaitPolicy{
			Attempts: cfg.Worker.AudioWaitAttempts,
			Interval: cfg.Worker.AudioWaitInterval,
		},
		Log: logger,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.GRPCAddr, err)
	}
	hs := health.NewServer(logger)
	go func() {
		if err := hs.Serve(lis); err != nil {
			logger.WithError(err).Error("gRPC health server stopped")
		}
	}()
	go hs.Watch(ctx, healthCheckInterval, toolCheck(cfg.FFmpeg.FFmpegPath), toolCheck(cfg.FFmpeg.FFprobePath))

	// Jobs keep running through shutdown; Stop waits for them.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	dispatcher := worker.NewDispatcher(cfg.Worker.Count, cfg.Worker.QueueSize, store, logger)
	dispatcher.Run(jobCtx)

	poller := worker.NewPoller(store, registry, dispatcher, store, cfg.Worker.PollInterval, logger)
	pollDone := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(pollDone)
	}()

	logger.WithFields(logrus.Fields{
		"workers":   cfg.Worker.Count,
		"job_store": cfg.JobStore,
		"grpc_addr": cfg.GRPCAddr,
	}).Info("Audio Processor is running")

	<-ctx.Done()
	logger.Info("Shutting down Audio Processor")
	<-pollDone
	dispatcher.Stop()
	hs.Stop()
	logger.Info("Audio Processor shut down gracefully")
	return nil
}

func openStore(cfg *config.Config, log logrus.FieldLogger) (jobStore, func(), error) {
	if cfg.JobStore == config.JobStoreSQLite {
		s, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.WithError(err).Warn("Failed to close sqlite store")
			}
		}, nil
	}

	client, err := db.NewPostgrestClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	if err != nil {
		return nil, nil, err
	}
	return db.NewPostgrestStore(client, log), func() {}, nil
}

func openBlobs(cfg *config.Config, log logrus.FieldLogger) (storage.BlobStore, error) {
	if cfg.StorageDir != "" {
		return storage.NewDirStore(cfg.StorageDir)
	}
	client := storage.NewStorageClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	return storage.NewSupabaseStore(client, cfg.Supabase.Bucket, log), nil
}

func toolCheck(path string) health.Check {
	return func(context.Context) error {
		if _, err := exec.LookPath(path); err != nil {
			return fmt.Errorf("%s not available: %w", path, err)
		}
		return nil
	}
}
