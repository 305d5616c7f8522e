package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FFProbeOutput is the part of ffprobe's JSON output we read.
type FFProbeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// ParseDuration extracts format.duration from ffprobe JSON output.
func ParseDuration(out []byte) (time.Duration, error) {
	var probe FFProbeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("error unmarshalling ffprobe output: %w\nOutput: %s", err, string(out))
	}

	if probe.Format.Duration == "" {
		return 0, fmt.Errorf("could not retrieve duration from ffprobe output\nOutput: %s", string(out))
	}

	seconds, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing duration string '%s': %w", probe.Format.Duration, err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("ffprobe reported non-positive duration %s", probe.Format.Duration)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// ProbeDuration returns the duration of the workspace file name.
func (e *Engine) ProbeDuration(ctx context.Context, name string) (time.Duration, error) {
	// ffprobe -v quiet -print_format json -show_format <file>
	out, err := e.runner.Run(ctx, e.dir, e.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		name,
	)
	if err != nil {
		return 0, err
	}
	return ParseDuration(out)
}
