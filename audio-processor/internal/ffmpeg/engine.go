package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// EngineConfig locates the media tools and the directory under which each
// engine creates its private workspace.
type EngineConfig struct {
	FFmpegPath    string
	FFprobePath   string
	WorkspaceRoot string // empty means os.TempDir()
}

// Engine is one ffmpeg instance bound to a private workspace directory.
// It is created per extraction and must be closed; Close deletes every
// artifact the engine wrote.
type Engine struct {
	ffmpeg  string
	ffprobe string
	dir     string
	runner  Runner
	log     logrus.FieldLogger
}

// NewEngine resolves the tools and creates a fresh workspace.
func NewEngine(cfg EngineConfig, runner Runner, log logrus.FieldLogger) (*Engine, error) {
	ffmpegPath, err := runner.LookPath(cfg.FFmpegPath)
	if err != nil {
		return nil, newError(ErrEngineInitFailed, StageInit, noSegment, fmt.Errorf("locating ffmpeg %q: %w", cfg.FFmpegPath, err))
	}
	ffprobePath, err := runner.LookPath(cfg.FFprobePath)
	if err != nil {
		return nil, newError(ErrEngineInitFailed, StageInit, noSegment, fmt.Errorf("locating ffprobe %q: %w", cfg.FFprobePath, err))
	}

	dir, err := os.MkdirTemp(cfg.WorkspaceRoot, "elevenvoice-*")
	if err != nil {
		return nil, newError(ErrEngineInitFailed, StageInit, noSegment, fmt.Errorf("creating workspace: %w", err))
	}

	log.WithField("workspace", dir).Debug("Engine workspace created")
	return &Engine{
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		dir:     dir,
		runner:  runner,
		log:     log,
	}, nil
}

// Dir returns the workspace directory.
func (e *Engine) Dir() string {
	return e.dir
}

// WriteFrom streams r into the workspace file name.
func (e *Engine) WriteFrom(name string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(e.path(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", name, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", name, err)
	}
	return n, nil
}

// WriteFile writes data to the workspace file name.
func (e *Engine) WriteFile(name string, data []byte) error {
	if err := os.WriteFile(e.path(name), data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// ReadFile reads the workspace file name.
func (e *Engine) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(e.path(name))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

// Run invokes ffmpeg inside the workspace. Relative file names in args
// resolve against it.
func (e *Engine) Run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}, args...)
	e.log.WithField("args", full).Debug("Running ffmpeg")
	_, err := e.runner.Run(ctx, e.dir, e.ffmpeg, full...)
	return err
}

// Close removes the workspace and everything in it.
func (e *Engine) Close() error {
	if err := os.RemoveAll(e.dir); err != nil {
		return fmt.Errorf("removing workspace %s: %w", e.dir, err)
	}
	e.log.WithField("workspace", e.dir).Debug("Engine workspace removed")
	return nil
}

func (e *Engine) path(name string) string {
	return filepath.Join(e.dir, filepath.Base(name))
}
