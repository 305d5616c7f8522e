package models

import (
	"github.com/google/uuid"

	"github.com/tomaspozo/elevenvoice/internal/segments"
)

// ConversationJobPayload is the input payload of both conversation jobs.
type ConversationJobPayload struct {
	ConversationID uuid.UUID `json:"conversation_id" validate:"required"`
}

// SaveAudioOutput is stored as output_details of SAVE_CONVERSATION_AUDIO.
type SaveAudioOutput struct {
	OriginalAudioPath string `json:"original_audio_path"`
	Bytes             int    `json:"bytes"`
	SourceAudioHash   string `json:"source_audio_hash"`
}

// ProcessAudioOutput is stored as output_details of PROCESS_CONVERSATION_AUDIO.
type ProcessAudioOutput struct {
	OriginalAudioPath  string             `json:"original_audio_path"`
	UserAudioPath      string             `json:"user_audio_path"`
	UserSegments       []segments.Segment `json:"user_segments"`
	UserTranscription  string             `json:"user_transcription"`
	Strategy           string             `json:"strategy"`
	SourceDurationSecs float64            `json:"source_duration_secs"`
	DroppedSegments    int                `json:"dropped_segments"`
	UserAudioHash      string             `json:"user_audio_hash"`
}

// TranscriptResponse is returned by the transcript preview endpoint.
type TranscriptResponse struct {
	ConversationID    string                     `json:"conversation_id"`
	Status            string                     `json:"status"`
	Transcript        []segments.TranscriptEntry `json:"transcript"`
	UserTranscription string                     `json:"user_transcription"`
}

// SegmentsResponse is returned by the segments preview endpoint.
type SegmentsResponse struct {
	ConversationID string             `json:"conversation_id"`
	Segments       []segments.Segment `json:"segments"`
	TotalDuration  float64            `json:"total_duration"`
}
