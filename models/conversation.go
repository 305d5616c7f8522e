package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomaspozo/elevenvoice/internal/segments"
)

// ConversationsTable is both the Postgres table and the storage bucket name.
const ConversationsTable = "conversations"

// Conversation represents a recorded voice-agent conversation in the database.
type Conversation struct {
	ID              uuid.UUID          `json:"id"`
	UserID          *uuid.UUID         `json:"user_id,omitempty"` // Nullable foreign key
	ElevenLabsID    string             `json:"elevenlabs_id"`
	AudioSavedAt    *time.Time         `json:"audio_saved_at,omitempty"`
	UserSegments    []segments.Segment `json:"user_segments,omitempty"` // Nullable JSONB
	ProcessedAt     *time.Time         `json:"processed_at,omitempty"`
	SourceAudioHash *string            `json:"source_audio_hash,omitempty"`
	UserAudioHash   *string            `json:"user_audio_hash,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// OriginalAudioPath is the storage object holding the full recording.
func OriginalAudioPath(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversations/%s/original.mp3", conversationID)
}

// UserAudioPath is the storage object holding only the user's speech.
func UserAudioPath(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversations/%s/user.mp3", conversationID)
}
