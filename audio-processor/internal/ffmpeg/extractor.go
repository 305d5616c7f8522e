package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tomaspozo/elevenvoice/internal/segments"
)

// Strategy selects how trimmed segments are stitched together.
type Strategy string

const (
	// StrategyAuto uses the filter graph unless the segment count exceeds
	// MaxFilterGraphSegments.
	StrategyAuto Strategy = "auto"
	// StrategyFilterGraph trims and concatenates in one ffmpeg invocation
	// (atrim + concat filter).
	StrategyFilterGraph Strategy = "filtergraph"
	// StrategyDemuxer re-encodes one clip per segment and stitches them
	// with the concat demuxer, without a second re-encode.
	StrategyDemuxer Strategy = "demuxer"
	// StrategyPassthrough stream-copies the source; used when there are no
	// segments.
	StrategyPassthrough Strategy = "passthrough"
)

// ParseStrategy accepts the configured strategy names.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyFilterGraph:
		return StrategyFilterGraph, nil
	case StrategyDemuxer:
		return StrategyDemuxer, nil
	}
	return "", fmt.Errorf("unknown extraction strategy %q", s)
}

const (
	inputFile    = "input.mp3"
	outputFile   = "output.mp3"
	manifestFile = "concat.txt"
)

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	EngineConfig
	Strategy Strategy
	// MaxFilterGraphSegments caps the filter graph size under StrategyAuto
	// so the argument list stays within command-length limits.
	MaxFilterGraphSegments int
	// MP3Quality is the libmp3lame VBR quality (-q:a), 0 best to 9 worst.
	MP3Quality int
}

// DefaultExtractorConfig returns the configuration used in production.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		EngineConfig: EngineConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Strategy:               StrategyAuto,
		MaxFilterGraphSegments: 100,
		MP3Quality:             2,
	}
}

// Result is the outcome of a successful extraction.
type Result struct {
	// Audio is the MP3 containing only the user segments.
	Audio []byte
	// Applied are the segments after clamping to the source duration.
	Applied []segments.Segment
	// Dropped counts segments that began past the end of the source.
	Dropped        int
	SourceDuration time.Duration
	Strategy       Strategy
}

// Extractor cuts user segments out of a conversation recording. Each call
// runs on its own Engine; nothing is shared between calls.
type Extractor struct {
	cfg    ExtractorConfig
	runner Runner
	log    logrus.FieldLogger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(x *Extractor) {
		x.runner = r
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(x *Extractor) {
		x.log = l
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg ExtractorConfig, opts ...Option) *Extractor {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyAuto
	}
	if cfg.MaxFilterGraphSegments <= 0 {
		cfg.MaxFilterGraphSegments = DefaultExtractorConfig().MaxFilterGraphSegments
	}
	x := &Extractor{
		cfg:    cfg,
		runner: ExecRunner{},
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// ExtractUserAudio returns an MP3 holding only segs of source, in order.
// With no segments the source is stream-copied unchanged. Output is only
// returned once every step has succeeded; the workspace is removed on all
// paths.
func (x *Extractor) ExtractUserAudio(ctx context.Context, source io.Reader, segs []segments.Segment) (*Result, error) {
	eng, err := NewEngine(x.cfg.EngineConfig, x.runner, x.log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			x.log.WithError(cerr).Warn("Failed to clean up engine workspace")
		}
	}()

	n, err := eng.WriteFrom(inputFile, source)
	if err != nil {
		return nil, newError(ErrEngineIngestFailed, StageIngest, noSegment, err)
	}
	if n == 0 {
		return nil, newError(ErrEngineIngestFailed, StageIngest, noSegment, errors.New("source audio is empty"))
	}

	if len(segs) == 0 {
		if err := x.passthrough(ctx, eng); err != nil {
			return nil, err
		}
		audio, err := readOutput(eng)
		if err != nil {
			return nil, err
		}
		x.log.WithField("bytes", len(audio)).Info("No user segments; copied source audio through")
		return &Result{Audio: audio, Applied: []segments.Segment{}, Strategy: StrategyPassthrough}, nil
	}

	sourceDuration, err := eng.ProbeDuration(ctx, inputFile)
	if err != nil {
		return nil, newError(ErrEngineIngestFailed, StageProbe, noSegment, err)
	}

	applied, dropped := ClampSegments(segs, sourceDuration)
	if dropped > 0 {
		x.log.WithFields(logrus.Fields{
			"dropped":         dropped,
			"source_duration": sourceDuration.Seconds(),
		}).Warn("Transcript timestamps exceed the audio length; segments dropped")
	}
	if len(applied) == 0 {
		return nil, newError(ErrEngineIngestFailed, StageProbe, noSegment,
			fmt.Errorf("no segment overlaps the %.3fs of source audio", sourceDuration.Seconds()))
	}

	strategy := x.pickStrategy(len(applied))
	switch strategy {
	case StrategyDemuxer:
		err = x.trimThenConcat(ctx, eng, applied)
	default:
		err = x.filterGraph(ctx, eng, applied)
	}
	if err != nil {
		return nil, err
	}

	audio, err := readOutput(eng)
	if err != nil {
		return nil, err
	}

	x.log.WithFields(logrus.Fields{
		"segments":        len(applied),
		"strategy":        strategy,
		"bytes":           len(audio),
		"source_duration": sourceDuration.Seconds(),
	}).Info("Extracted user audio")
	return &Result{
		Audio:          audio,
		Applied:        applied,
		Dropped:        dropped,
		SourceDuration: sourceDuration,
		Strategy:       strategy,
	}, nil
}

func (x *Extractor) pickStrategy(n int) Strategy {
	switch x.cfg.Strategy {
	case StrategyFilterGraph, StrategyDemuxer:
		return x.cfg.Strategy
	}
	if n > x.cfg.MaxFilterGraphSegments {
		return StrategyDemuxer
	}
	return StrategyFilterGraph
}

func (x *Extractor) passthrough(ctx context.Context, eng *Engine) error {
	// ffmpeg -i input.mp3 -map 0:a -c copy output.mp3
	err := eng.Run(ctx, "-i", inputFile, "-map", "0:a", "-c", "copy", outputFile)
	if err != nil {
		return newError(ErrEngineExecFailed, StagePassthrough, noSegment, err)
	}
	return nil
}

func (x *Extractor) filterGraph(ctx context.Context, eng *Engine, segs []segments.Segment) error {
	err := eng.Run(ctx,
		"-i", inputFile,
		"-filter_complex", BuildFilterGraph(segs),
		"-map", "[out]",
		"-c:a", "libmp3lame",
		"-q:a", strconv.Itoa(x.cfg.MP3Quality),
		outputFile,
	)
	if err != nil {
		return newError(ErrEngineExecFailed, StageFilterGraph, noSegment, err)
	}
	return nil
}

func (x *Extractor) trimThenConcat(ctx context.Context, eng *Engine, segs []segments.Segment) error {
	clips := make([]string, 0, len(segs))
	for i, s := range segs {
		clip := fmt.Sprintf("segment_%03d.mp3", i)
		err := eng.Run(ctx,
			"-i", inputFile,
			"-ss", formatSeconds(s.StartTime),
			"-t", formatSeconds(s.Duration),
			"-c:a", "libmp3lame",
			"-q:a", strconv.Itoa(x.cfg.MP3Quality),
			clip,
		)
		if err != nil {
			return newError(ErrEngineExecFailed, StageTrim, i, err)
		}
		clips = append(clips, clip)
	}

	if err := eng.WriteFile(manifestFile, BuildConcatManifest(clips)); err != nil {
		return newError(ErrEngineExecFailed, StageConcat, noSegment, err)
	}

	// ffmpeg -f concat -safe 0 -i concat.txt -c copy output.mp3
	err := eng.Run(ctx, "-f", "concat", "-safe", "0", "-i", manifestFile, "-c", "copy", outputFile)
	if err != nil {
		return newError(ErrEngineExecFailed, StageConcat, noSegment, err)
	}
	return nil
}

func readOutput(eng *Engine) ([]byte, error) {
	audio, err := eng.ReadFile(outputFile)
	if err != nil {
		return nil, newError(ErrUnexpectedOutputFormat, StageReadOutput, noSegment, err)
	}
	if !LooksLikeMP3(audio) {
		return nil, newError(ErrUnexpectedOutputFormat, StageReadOutput, noSegment,
			fmt.Errorf("output is %d bytes without an ID3 tag or MPEG frame sync", len(audio)))
	}
	return audio, nil
}

// BuildFilterGraph returns a filter_complex expression that trims every
// segment from the first input, resets its timestamps and concatenates the
// results into [out].
func BuildFilterGraph(segs []segments.Segment) string {
	var b strings.Builder
	for i, s := range segs {
		fmt.Fprintf(&b, "[0:a]atrim=start=%s:duration=%s,asetpts=PTS-STARTPTS[s%d];",
			formatSeconds(s.StartTime), formatSeconds(s.Duration), i)
	}
	for i := range segs {
		fmt.Fprintf(&b, "[s%d]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=0:a=1[out]", len(segs))
	return b.String()
}

// BuildConcatManifest returns a concat demuxer listing of clips, in order.
func BuildConcatManifest(clips []string) []byte {
	var b bytes.Buffer
	for _, c := range clips {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(c, "'", `'\''`))
	}
	return b.Bytes()
}

// ClampSegments fits segs into [0, sourceDuration]. Segments starting at or
// past the end are dropped and counted.
func ClampSegments(segs []segments.Segment, sourceDuration time.Duration) ([]segments.Segment, int) {
	limit := decimal.New(sourceDuration.Milliseconds(), -3)
	out := make([]segments.Segment, 0, len(segs))
	dropped := 0
	for _, s := range segs {
		start := decimal.Max(decimal.Zero, decimal.NewFromFloat(s.StartTime))
		if start.GreaterThanOrEqual(limit) {
			dropped++
			continue
		}
		end := decimal.Min(start.Add(decimal.NewFromFloat(s.Duration)), limit)
		duration := end.Sub(start)
		if !duration.IsPositive() {
			dropped++
			continue
		}
		out = append(out, segments.Segment{
			StartTime: start.InexactFloat64(),
			Duration:  duration.InexactFloat64(),
		})
	}
	return out, dropped
}

// LooksLikeMP3 reports whether b starts with an ID3v2 tag or an MPEG audio
// frame sync.
func LooksLikeMP3(b []byte) bool {
	if len(b) >= 3 && string(b[:3]) == "ID3" {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
