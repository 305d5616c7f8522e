package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/tomaspozo/elevenvoice/audio-processor/internal/worker"
	"github.com/tomaspozo/elevenvoice/models"
)

var validate = validator.New()

// Registry builds executable jobs from stored job records.
type Registry struct {
	deps Deps
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps}
}

// Decode implements worker.Decoder.
func (r *Registry) Decode(rec models.ProcessingJob) (worker.Job, error) {
	switch rec.JobType {
	case models.JobTypeSaveConversationAudio, models.JobTypeProcessConversationAudio:
	default:
		return nil, fmt.Errorf("unknown job type %q", rec.JobType)
	}

	var payload models.ConversationJobPayload
	if err := json.Unmarshal(rec.InputPayload, &payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", rec.JobType, err)
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", rec.JobType, err)
	}

	if rec.JobType == models.JobTypeSaveConversationAudio {
		return NewSaveConversationAudioJob(rec.JobID, payload, r.deps), nil
	}
	return NewProcessConversationAudioJob(rec.JobID, payload, r.deps), nil
}
