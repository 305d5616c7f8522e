package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

const (
	JobTypeSaveConversationAudio    = "SAVE_CONVERSATION_AUDIO"
	JobTypeProcessConversationAudio = "PROCESS_CONVERSATION_AUDIO"
)

// ProcessingJob maps to the audio_job_statuses table.
// Pointers are used for nullable columns and json.RawMessage for JSONB.
type ProcessingJob struct {
	JobID         string          `json:"job_id"`
	JobType       string          `json:"job_type"`
	Status        JobStatus       `json:"status"`
	InputPayload  json.RawMessage `json:"input_payload,omitempty"`
	OutputDetails json.RawMessage `json:"output_details,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"` // Set by the DB on insert
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
}
