package handlers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomaspozo/elevenvoice/internal/db"
	"github.com/tomaspozo/elevenvoice/internal/elevenlabs"
	"github.com/tomaspozo/elevenvoice/internal/segments"
	"github.com/tomaspozo/elevenvoice/internal/storage"
)

// ConversationProvider defines the ElevenLabs operations the handlers need.
// *elevenlabs.Client implements it.
type ConversationProvider interface {
	GetSignedURL(ctx context.Context, agentID string) (string, error)
	GetConversation(ctx context.Context, conversationID string) (*elevenlabs.Conversation, error)
	GetAudio(ctx context.Context, conversationID string) ([]byte, error)
}

// ApplicationHandler holds shared dependencies for handlers.
type ApplicationHandler struct {
	Logger         logrus.FieldLogger
	Conversations  db.ConversationStore
	Jobs           db.JobStore
	Blobs          storage.BlobStore
	Provider       ConversationProvider
	AgentID        string
	SignedURLTTL   time.Duration
	SegmentOptions segments.Options
}

// NewApplicationHandler creates a new ApplicationHandler with the given dependencies.
func NewApplicationHandler(logger logrus.FieldLogger, conversations db.ConversationStore, jobs db.JobStore, blobs storage.BlobStore, provider ConversationProvider) *ApplicationHandler {
	return &ApplicationHandler{
		Logger:         logger,
		Conversations:  conversations,
		Jobs:           jobs,
		Blobs:          blobs,
		Provider:       provider,
		SignedURLTTL:   time.Minute,
		SegmentOptions: segments.DefaultOptions(),
	}
}
