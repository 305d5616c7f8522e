package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/tomaspozo/elevenvoice/internal/segments"
)

// Error kinds surfaced by an extraction. All are terminal for the job.
var (
	ErrTranscriptUnavailable  = segments.ErrTranscriptUnavailable
	ErrEngineInitFailed       = errors.New("engine failed to initialize")
	ErrEngineIngestFailed     = errors.New("engine failed to ingest input")
	ErrEngineExecFailed       = errors.New("engine failed to execute trim/concat")
	ErrUnexpectedOutputFormat = errors.New("engine returned unexpected output format")
)

// Stage names the step of the pipeline an error came from.
type Stage string

const (
	StageInit        Stage = "init"
	StageIngest      Stage = "ingest"
	StageProbe       Stage = "probe"
	StagePassthrough Stage = "passthrough"
	StageFilterGraph Stage = "filtergraph"
	StageTrim        Stage = "trim"
	StageConcat      Stage = "concat"
	StageReadOutput  Stage = "read_output"
)

// noSegment marks errors not attributable to a single segment.
const noSegment = -1

// ProcessingError is returned by every failing engine interaction.
// errors.Is matches it against its Kind; errors.Unwrap yields the cause.
type ProcessingError struct {
	Kind    error
	Stage   Stage
	Segment int
	Err     error
}

func (e *ProcessingError) Error() string {
	msg := fmt.Sprintf("%v (stage %s", e.Kind, e.Stage)
	if e.Segment >= 0 {
		msg += fmt.Sprintf(", segment %d", e.Segment)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool { return target == e.Kind }

func newError(kind error, stage Stage, segment int, err error) *ProcessingError {
	return &ProcessingError{Kind: kind, Stage: stage, Segment: segment, Err: err}
}
