package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomaspozo/elevenvoice/internal/segments"
	"github.com/tomaspozo/elevenvoice/models"
)

// ConversationStore persists conversations and their processing results.
type ConversationStore interface {
	CreateConversation(ctx context.Context, elevenLabsID string, userID *uuid.UUID) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	// MarkAudioSaved records that original.mp3 is in storage.
	MarkAudioSaved(ctx context.Context, id uuid.UUID, sourceAudioHash string) error
	// SaveUserSegments stores the applied segments and marks the
	// conversation processed.
	SaveUserSegments(ctx context.Context, id uuid.UUID, segs []segments.Segment, userAudioHash string) error
}

func (s *PostgrestStore) CreateConversation(ctx context.Context, elevenLabsID string, userID *uuid.UUID) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := map[string]interface{}{
		"id":            uuid.New(),
		"elevenlabs_id": elevenLabsID,
	}
	if userID != nil {
		row["user_id"] = *userID
	}

	var results []models.Conversation
	_, err := s.client.From(models.ConversationsTable).Insert(row, false, "", "representation", "").ExecuteTo(&results)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no record returned after inserting conversation %s", elevenLabsID)
	}
	return &results[0], nil
}

func (s *PostgrestStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var conversations []models.Conversation
	_, err := s.client.From(models.ConversationsTable).
		Select("*", "", false).
		Eq("id", id.String()).
		Limit(1, "").
		ExecuteTo(&conversations)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation %s: %w", id, err)
	}
	if len(conversations) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrRecordNotFound)
	}
	return &conversations[0], nil
}

func (s *PostgrestStore) MarkAudioSaved(ctx context.Context, id uuid.UUID, sourceAudioHash string) error {
	now := time.Now().UTC()
	return s.updateConversation(ctx, id, map[string]interface{}{
		"audio_saved_at":    now,
		"source_audio_hash": sourceAudioHash,
		"updated_at":        now,
	})
}

func (s *PostgrestStore) SaveUserSegments(ctx context.Context, id uuid.UUID, segs []segments.Segment, userAudioHash string) error {
	now := time.Now().UTC()
	return s.updateConversation(ctx, id, map[string]interface{}{
		"user_segments":   segs,
		"user_audio_hash": userAudioHash,
		"processed_at":    now,
		"updated_at":      now,
	})
}

func (s *PostgrestStore) updateConversation(ctx context.Context, id uuid.UUID, update map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var results []models.Conversation
	_, err := s.client.From(models.ConversationsTable).
		Update(update, "representation", "").
		Eq("id", id.String()).
		ExecuteTo(&results)
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", id, err)
	}
	if len(results) == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrRecordNotFound)
	}
	return nil
}
