// Package segments turns a role-tagged conversation transcript into the time
// ranges of the source recording that belong to the human speaker.
package segments

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// RoleUser is the transcript role attributed to the human speaker.
const RoleUser = "user"

var (
	// ErrTranscriptUnavailable is returned for transcripts whose shape cannot be
	// trusted to produce correct segments.
	ErrTranscriptUnavailable = errors.New("transcript unavailable")

	// ErrTranscriptUnsorted is returned when entries are not in ascending
	// time_in_call_secs order. It wraps ErrTranscriptUnavailable.
	ErrTranscriptUnsorted = fmt.Errorf("%w: entries out of chronological order", ErrTranscriptUnavailable)
)

// TranscriptEntry is one utterance of the conversation.
type TranscriptEntry struct {
	Role           string  `json:"role" yaml:"role" validate:"required"`
	Message        string  `json:"message" yaml:"message"`
	TimeInCallSecs float64 `json:"time_in_call_secs" yaml:"time_in_call_secs"`

	// timeMissing is set when a decoded entry had no time_in_call_secs.
	timeMissing bool
}

type encodedEntry struct {
	Role           string   `json:"role" yaml:"role"`
	Message        string   `json:"message" yaml:"message"`
	TimeInCallSecs *float64 `json:"time_in_call_secs" yaml:"time_in_call_secs"`
}

func (e *TranscriptEntry) fromEncoded(enc encodedEntry) {
	*e = TranscriptEntry{Role: enc.Role, Message: enc.Message, timeMissing: enc.TimeInCallSecs == nil}
	if enc.TimeInCallSecs != nil {
		e.TimeInCallSecs = *enc.TimeInCallSecs
	}
}

func (e *TranscriptEntry) UnmarshalJSON(data []byte) error {
	var enc encodedEntry
	if err := json.Unmarshal(data, &enc); err != nil {
		return err
	}
	e.fromEncoded(enc)
	return nil
}

func (e *TranscriptEntry) UnmarshalYAML(node *yaml.Node) error {
	var enc encodedEntry
	if err := node.Decode(&enc); err != nil {
		return err
	}
	e.fromEncoded(enc)
	return nil
}

// Segment is a padded range of the source audio, in seconds.
type Segment struct {
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
}

// End returns StartTime + Duration.
func (s Segment) End() float64 {
	return decimal.NewFromFloat(s.StartTime).Add(decimal.NewFromFloat(s.Duration)).InexactFloat64()
}

// Options holds the tunable constants of the derivation.
type Options struct {
	// StartOffset is added to a user turn's timestamp to skip the agent's
	// turn-taking latency.
	StartOffset time.Duration
	// FallbackDuration is the raw length given to a user turn that no
	// non-user entry follows.
	FallbackDuration time.Duration
	// Padding is subtracted from the start and added to each end of the
	// raw range.
	Padding time.Duration
}

// DefaultOptions returns the offsets the recordings were tuned against.
func DefaultOptions() Options {
	return Options{
		StartOffset:      time.Second,
		FallbackDuration: 5 * time.Second,
		Padding:          100 * time.Millisecond,
	}
}

var validate = validator.New()

// Validate rejects transcripts with missing roles, missing or non-finite
// timestamps, and entries out of chronological order.
func Validate(transcript []TranscriptEntry) error {
	for i, entry := range transcript {
		if err := validate.Struct(entry); err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrTranscriptUnavailable, i, err)
		}
		if entry.timeMissing {
			return fmt.Errorf("%w: entry %d: time_in_call_secs is missing", ErrTranscriptUnavailable, i)
		}
		if math.IsNaN(entry.TimeInCallSecs) || math.IsInf(entry.TimeInCallSecs, 0) {
			return fmt.Errorf("%w: entry %d: time_in_call_secs is not finite", ErrTranscriptUnavailable, i)
		}
		if i > 0 && entry.TimeInCallSecs < transcript[i-1].TimeInCallSecs {
			return fmt.Errorf("%w: entry %d at %.3fs precedes entry %d at %.3fs",
				ErrTranscriptUnsorted, i, entry.TimeInCallSecs, i-1, transcript[i-1].TimeInCallSecs)
		}
	}
	return nil
}

// DeriveUserSegments returns one segment per user turn, in transcript order.
// Consecutive user turns are not merged. The transcript must be sorted by
// time_in_call_secs; it is validated, never re-sorted.
func DeriveUserSegments(transcript []TranscriptEntry, opts Options) ([]Segment, error) {
	if err := Validate(transcript); err != nil {
		return nil, err
	}

	offset := seconds(opts.StartOffset)
	fallback := seconds(opts.FallbackDuration)
	padding := seconds(opts.Padding)

	segs := make([]Segment, 0)
	for i, entry := range transcript {
		if entry.Role != RoleUser {
			continue
		}

		rawStart := decimal.NewFromFloat(entry.TimeInCallSecs).Add(offset)
		rawEnd := rawStart.Add(fallback)
		for _, next := range transcript[i+1:] {
			if next.Role != RoleUser {
				rawEnd = decimal.NewFromFloat(next.TimeInCallSecs)
				break
			}
		}

		raw := rawEnd.Sub(rawStart)
		if raw.IsNegative() {
			raw = decimal.Zero
		}
		start := decimal.Max(decimal.Zero, rawStart.Sub(padding))
		duration := raw.Add(padding).Add(padding)
		if !duration.IsPositive() {
			continue
		}

		segs = append(segs, Segment{
			StartTime: start.InexactFloat64(),
			Duration:  duration.InexactFloat64(),
		})
	}
	return segs, nil
}

// TotalDuration sums the durations of segs.
func TotalDuration(segs []Segment) float64 {
	total := decimal.Zero
	for _, s := range segs {
		total = total.Add(decimal.NewFromFloat(s.Duration))
	}
	return total.InexactFloat64()
}

// UserText joins the user messages of the transcript, one per line.
func UserText(transcript []TranscriptEntry) string {
	var lines []string
	for _, entry := range transcript {
		if entry.Role == RoleUser {
			lines = append(lines, entry.Message)
		}
	}
	return strings.Join(lines, "\n")
}

func seconds(d time.Duration) decimal.Decimal {
	return decimal.New(d.Milliseconds(), -3)
}
