package jobs

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tomaspozo/elevenvoice/internal/audiohash"
	"github.com/tomaspozo/elevenvoice/internal/storage"
	"github.com/tomaspozo/elevenvoice/models"
)

// SaveConversationAudioJob copies the provider's recording of a conversation
// into storage as original.mp3 and marks the conversation audio_saved_at.
type SaveConversationAudioJob struct {
	jobID   string
	payload models.ConversationJobPayload
	deps    Deps
}

func NewSaveConversationAudioJob(jobID string, payload models.ConversationJobPayload, deps Deps) *SaveConversationAudioJob {
	return &SaveConversationAudioJob{jobID: jobID, payload: payload, deps: deps}
}

// ID returns the job_id from the database.
func (j *SaveConversationAudioJob) ID() string {
	return j.jobID
}

func (j *SaveConversationAudioJob) Type() string {
	return models.JobTypeSaveConversationAudio
}

func (j *SaveConversationAudioJob) Payload() interface{} {
	return j.payload
}

func (j *SaveConversationAudioJob) Execute(ctx context.Context) (interface{}, error) {
	log := j.deps.Log.WithFields(logrus.Fields{"job_id": j.jobID, "conversation_id": j.payload.ConversationID})

	conv, err := j.deps.Conversations.GetConversation(ctx, j.payload.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	audio, err := j.deps.Provider.FetchAudioWithRetry(ctx, conv.ElevenLabsID)
	if err != nil {
		return nil, fmt.Errorf("fetching audio for %s: %w", conv.ElevenLabsID, err)
	}

	path := models.OriginalAudioPath(conv.ID)
	if err := j.deps.Blobs.Upload(ctx, path, audio, storage.ContentTypeMP3); err != nil {
		return nil, err
	}

	hash := audiohash.FromBytes(audio)
	if err := j.deps.Conversations.MarkAudioSaved(ctx, conv.ID, hash); err != nil {
		return nil, fmt.Errorf("marking audio saved: %w", err)
	}

	log.WithFields(logrus.Fields{"path": path, "bytes": len(audio)}).Info("Saved conversation audio")
	return models.SaveAudioOutput{
		OriginalAudioPath: path,
		Bytes:             len(audio),
		SourceAudioHash:   hash,
	}, nil
}
