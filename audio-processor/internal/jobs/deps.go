package jobs

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomaspozo/elevenvoice/audio-processor/internal/ffmpeg"
	"github.com/tomaspozo/elevenvoice/internal/db"
	"github.com/tomaspozo/elevenvoice/internal/elevenlabs"
	"github.com/tomaspozo/elevenvoice/internal/segments"
	"github.com/tomaspozo/elevenvoice/internal/storage"
)

// ConversationProvider is the voice-agent API the jobs read from.
// *elevenlabs.Client satisfies it.
type ConversationProvider interface {
	GetConversation(ctx context.Context, conversationID string) (*elevenlabs.Conversation, error)
	FetchAudioWithRetry(ctx context.Context, conversationID string) ([]byte, error)
}

// AudioExtractor cuts user segments out of a recording.
// *ffmpeg.Extractor satisfies it.
type AudioExtractor interface {
	ExtractUserAudio(ctx context.Context, source io.Reader, segs []segments.Segment) (*ffmpeg.Result, error)
}

// WaitPolicy bounds how long processing waits for the original audio to be
// saved.
type WaitPolicy struct {
	Attempts int
	Interval time.Duration
}

// Deps holds what the conversation jobs need.
type Deps struct {
	Conversations  db.ConversationStore
	Blobs          storage.BlobStore
	Provider       ConversationProvider
	Extractor      AudioExtractor
	SegmentOptions segments.Options
	AudioWait      WaitPolicy
	Log            logrus.FieldLogger
}
