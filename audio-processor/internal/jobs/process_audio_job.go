package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomaspozo/elevenvoice/internal/audiohash"
	"github.com/tomaspozo/elevenvoice/internal/segments"
	"github.com/tomaspozo/elevenvoice/internal/storage"
	"github.com/tomaspozo/elevenvoice/models"
)

// ErrAudioNotSaved is returned when original.mp3 never shows up within the
// wait policy.
var ErrAudioNotSaved = errors.New("conversation audio not saved")

// ProcessConversationAudioJob derives the user's speaking segments from the
// transcript, cuts them out of original.mp3 and stores the result as
// user.mp3.
type ProcessConversationAudioJob struct {
	jobID   string
	payload models.ConversationJobPayload
	deps    Deps
}

func NewProcessConversationAudioJob(jobID string, payload models.ConversationJobPayload, deps Deps) *ProcessConversationAudioJob {
	return &ProcessConversationAudioJob{jobID: jobID, payload: payload, deps: deps}
}

// ID returns the job_id from the database.
func (j *ProcessConversationAudioJob) ID() string {
	return j.jobID
}

func (j *ProcessConversationAudioJob) Type() string {
	return models.JobTypeProcessConversationAudio
}

func (j *ProcessConversationAudioJob) Payload() interface{} {
	return j.payload
}

func (j *ProcessConversationAudioJob) Execute(ctx context.Context) (interface{}, error) {
	log := j.deps.Log.WithFields(logrus.Fields{"job_id": j.jobID, "conversation_id": j.payload.ConversationID})

	conv, err := j.waitForAudio(ctx, log)
	if err != nil {
		return nil, err
	}

	details, err := j.deps.Provider.GetConversation(ctx, conv.ElevenLabsID)
	if err != nil {
		return nil, fmt.Errorf("fetching transcript for %s: %w", conv.ElevenLabsID, err)
	}

	originalPath := models.OriginalAudioPath(conv.ID)
	original, err := j.deps.Blobs.Download(ctx, originalPath)
	if err != nil {
		return nil, err
	}

	userSegments, err := segments.DeriveUserSegments(details.Transcript, j.deps.SegmentOptions)
	if err != nil {
		return nil, err
	}
	log.WithField("segments", len(userSegments)).Debug("Derived user segments")

	res, err := j.deps.Extractor.ExtractUserAudio(ctx, bytes.NewReader(original), userSegments)
	if err != nil {
		return nil, err
	}

	// Nothing is written for the conversation until extraction succeeded.
	userPath := models.UserAudioPath(conv.ID)
	if err := j.deps.Blobs.Upload(ctx, userPath, res.Audio, storage.ContentTypeMP3); err != nil {
		return nil, err
	}

	userHash := audiohash.FromBytes(res.Audio)
	if err := j.deps.Conversations.SaveUserSegments(ctx, conv.ID, res.Applied, userHash); err != nil {
		return nil, fmt.Errorf("saving user segments: %w", err)
	}

	log.WithFields(logrus.Fields{
		"segments": len(res.Applied),
		"dropped":  res.Dropped,
		"strategy": res.Strategy,
	}).Info("Processed conversation audio")

	return models.ProcessAudioOutput{
		OriginalAudioPath:  originalPath,
		UserAudioPath:      userPath,
		UserSegments:       res.Applied,
		UserTranscription:  segments.UserText(details.Transcript),
		Strategy:           string(res.Strategy),
		SourceDurationSecs: res.SourceDuration.Seconds(),
		DroppedSegments:    res.Dropped,
		UserAudioHash:      userHash,
	}, nil
}

// waitForAudio reloads the conversation until audio_saved_at is set or the
// wait policy is exhausted.
func (j *ProcessConversationAudioJob) waitForAudio(ctx context.Context, log logrus.FieldLogger) (*models.Conversation, error) {
	attempts := j.deps.AudioWait.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		conv, err := j.deps.Conversations.GetConversation(ctx, j.payload.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("loading conversation: %w", err)
		}
		if conv.AudioSavedAt != nil {
			return conv, nil
		}
		if attempt >= attempts {
			return nil, fmt.Errorf("%w after %d checks", ErrAudioNotSaved, attempts)
		}

		log.WithField("attempt", attempt).Info("Waiting for conversation audio to be saved")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(j.deps.AudioWait.Interval):
		}
	}
}
