package handlers

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tomaspozo/elevenvoice/api-gateway/utils"
	"github.com/tomaspozo/elevenvoice/internal/db"
	"github.com/tomaspozo/elevenvoice/internal/elevenlabs"
	"github.com/tomaspozo/elevenvoice/internal/segments"
	"github.com/tomaspozo/elevenvoice/internal/storage"
	"github.com/tomaspozo/elevenvoice/models"
)

var validate = validator.New()

// CreateConversationRequest defines the expected request body for registering
// a finished ElevenLabs conversation.
type CreateConversationRequest struct {
	ElevenLabsID string     `json:"elevenlabs_id" validate:"required"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
}

// SignedURLResponse carries a URL the browser can open directly.
type SignedURLResponse struct {
	URL              string `json:"url"`
	ExpiresInSeconds int    `json:"expires_in_seconds,omitempty"`
}

// JobAcceptedResponse is returned when a job was queued.
type JobAcceptedResponse struct {
	JobID          string    `json:"job_id"`
	JobType        string    `json:"job_type"`
	ConversationID uuid.UUID `json:"conversation_id"`
}

// GetSignedURL godoc
// @Summary Get a signed URL for the voice agent
// @Description Returns a short-lived ElevenLabs URL that lets the browser start a conversation with the configured agent.
// @Tags conversations
// @Produce json
// @Success 200 {object} utils.SuccessResponse{data=SignedURLResponse}
// @Failure 502 {object} utils.ErrorResponse
// @Router /conversations/signed-url [get]
func (h *ApplicationHandler) GetSignedURL(c *fiber.Ctx) error {
	if h.AgentID == "" {
		return utils.RespondWithError(c, fiber.StatusServiceUnavailable, "No voice agent configured")
	}
	url, err := h.Provider.GetSignedURL(c.UserContext(), h.AgentID)
	if err != nil {
		h.Logger.WithError(err).Error("Failed to get signed URL from ElevenLabs")
		return utils.RespondWithError(c, fiber.StatusBadGateway, "Could not get signed URL")
	}
	return utils.RespondWithJSON(c, fiber.StatusOK, SignedURLResponse{URL: url})
}

// CreateConversation godoc
// @Summary Register a conversation
// @Description Stores a finished ElevenLabs conversation so its audio can be saved and processed.
// @Tags conversations
// @Accept json
// @Produce json
// @Param conversation body CreateConversationRequest true "Conversation to register"
// @Success 201 {object} utils.SuccessResponse{data=models.Conversation}
// @Failure 400 {object} utils.ErrorResponse
// @Failure 500 {object} utils.ErrorResponse
// @Router /conversations [post]
func (h *ApplicationHandler) CreateConversation(c *fiber.Ctx) error {
	req := new(CreateConversationRequest)
	if err := c.BodyParser(req); err != nil {
		return utils.RespondWithError(c, fiber.StatusBadRequest, fmt.Sprintf("Cannot parse conversation JSON: %v", err))
	}
	if err := validate.Struct(req); err != nil {
		return utils.RespondWithValidationError(c, err)
	}

	conv, err := h.Conversations.CreateConversation(c.UserContext(), req.ElevenLabsID, req.UserID)
	if err != nil {
		h.Logger.WithError(err).WithField("elevenlabs_id", req.ElevenLabsID).Error("Failed to create conversation")
		return utils.RespondWithError(c, fiber.StatusInternalServerError, "Could not create conversation")
	}

	h.Logger.WithFields(logrus.Fields{"conversation_id": conv.ID, "elevenlabs_id": conv.ElevenLabsID}).Info("Conversation created")
	return utils.RespondWithJSON(c, fiber.StatusCreated, conv)
}

// GetConversation godoc
// @Summary Get a conversation
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} utils.SuccessResponse{data=models.Conversation}
// @Failure 400 {object} utils.ErrorResponse
// @Failure 404 {object} utils.ErrorResponse
// @Router /conversations/{id} [get]
func (h *ApplicationHandler) GetConversation(c *fiber.Ctx) error {
	conv, err := h.loadConversation(c)
	if err != nil {
		return err
	}
	return utils.RespondWithJSON(c, fiber.StatusOK, conv)
}

// GetTranscript godoc
// @Summary Get the conversation transcript
// @Description Fetches the role-tagged transcript from ElevenLabs.
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} utils.SuccessResponse{data=models.TranscriptResponse}
// @Failure 404 {object} utils.ErrorResponse
// @Failure 422 {object} utils.ErrorResponse "Transcript not available yet"
// @Failure 502 {object} utils.ErrorResponse
// @Router /conversations/{id}/transcript [get]
func (h *ApplicationHandler) GetTranscript(c *fiber.Ctx) error {
	conv, err := h.loadConversation(c)
	if err != nil {
		return err
	}
	details, err := h.Provider.GetConversation(c.UserContext(), conv.ElevenLabsID)
	if err != nil {
		return h.providerError(c, conv, err)
	}
	return utils.RespondWithJSON(c, fiber.StatusOK, models.TranscriptResponse{
		ConversationID:    conv.ElevenLabsID,
		Status:            details.Status,
		Transcript:        details.Transcript,
		UserTranscription: segments.UserText(details.Transcript),
	})
}

// GetAudio godoc
// @Summary Stream the full conversation audio
// @Description Proxies the recording from ElevenLabs.
// @Tags conversations
// @Produce audio/mpeg
// @Param id path string true "Conversation ID"
// @Success 200 {file} binary
// @Failure 404 {object} utils.ErrorResponse
// @Failure 502 {object} utils.ErrorResponse
// @Router /conversations/{id}/audio [get]
func (h *ApplicationHandler) GetAudio(c *fiber.Ctx) error {
	conv, err := h.loadConversation(c)
	if err != nil {
		return err
	}
	audio, err := h.Provider.GetAudio(c.UserContext(), conv.ElevenLabsID)
	if err != nil {
		return h.providerError(c, conv, err)
	}
	c.Set(fiber.HeaderContentType, storage.ContentTypeMP3)
	return c.Status(fiber.StatusOK).Send(audio)
}

// GetSegments godoc
// @Summary Preview the user segments
// @Description Derives the padded time ranges in which the user speaks, without touching any audio.
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} utils.SuccessResponse{data=models.SegmentsResponse}
// @Failure 404 {object} utils.ErrorResponse
// @Failure 422 {object} utils.ErrorResponse
// @Failure 502 {object} utils.ErrorResponse
// @Router /conversations/{id}/segments [get]
func (h *ApplicationHandler) GetSegments(c *fiber.Ctx) error {
	conv, err := h.loadConversation(c)
	if err != nil {
		return err
	}
	details, err := h.Provider.GetConversation(c.UserContext(), conv.ElevenLabsID)
	if err != nil {
		return h.providerError(c, conv, err)
	}
	segs, err := segments.DeriveUserSegments(details.Transcript, h.SegmentOptions)
	if err != nil {
		return utils.RespondWithError(c, fiber.StatusUnprocessableEntity, err.Error())
	}
	if segs == nil {
		segs = []segments.Segment{}
	}
	return utils.RespondWithJSON(c, fiber.StatusOK, models.SegmentsResponse{
		ConversationID: conv.ElevenLabsID,
		Segments:       segs,
		TotalDuration:  segments.TotalDuration(segs),
	})
}

// SaveAudio godoc
// @Summary Queue saving the original audio
// @Description Creates a SAVE_CONVERSATION_AUDIO job that copies the recording from ElevenLabs into storage.
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 202 {object} utils.SuccessResponse{data=JobAcceptedResponse}
// @Failure 404 {object} utils.ErrorResponse
// @Failure 500 {object} utils.ErrorResponse
// @Router /conversations/{id}/save-audio [post]
func (h *ApplicationHandler) SaveAudio(c *fiber.Ctx) error {
	return h.enqueue(c, models.JobTypeSaveConversationAudio)
}

// ProcessAudio godoc
// @Summary Queue extracting the user audio
// @Description Creates a PROCESS_CONVERSATION_AUDIO job that cuts the user's speech out of the saved recording.
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 202 {object} utils.SuccessResponse{data=JobAcceptedResponse}
// @Failure 404 {object} utils.ErrorResponse
// @Failure 500 {object} utils.ErrorResponse
// @Router /conversations/{id}/process [post]
func (h *ApplicationHandler) ProcessAudio(c *fiber.Ctx) error {
	return h.enqueue(c, models.JobTypeProcessConversationAudio)
}

// GetUserAudio godoc
// @Summary Get a download URL for the user audio
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} utils.SuccessResponse{data=SignedURLResponse}
// @Failure 404 {object} utils.ErrorResponse
// @Failure 409 {object} utils.ErrorResponse "Audio not processed yet"
// @Router /conversations/{id}/user-audio [get]
func (h *ApplicationHandler) GetUserAudio(c *fiber.Ctx) error {
	conv, err := h.loadConversation(c)
	if err != nil {
		return err
	}
	if conv.ProcessedAt == nil {
		return utils.RespondWithError(c, fiber.StatusConflict, "User audio has not been processed yet")
	}

	url, err := h.Blobs.SignedURL(c.UserContext(), models.UserAudioPath(conv.ID), h.SignedURLTTL)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return utils.RespondWithError(c, fiber.StatusNotFound, "User audio not found")
	case err != nil:
		h.Logger.WithError(err).WithField("conversation_id", conv.ID).Error("Failed to sign user audio URL")
		return utils.RespondWithError(c, fiber.StatusInternalServerError, "Could not create download URL")
	}
	return utils.RespondWithJSON(c, fiber.StatusOK, SignedURLResponse{
		URL:              url,
		ExpiresInSeconds: int(h.SignedURLTTL.Seconds()),
	})
}

func (h *ApplicationHandler) enqueue(c *fiber.Ctx, jobType string) error {
	conv, err := h.loadConversation(c)
	if err != nil {
		return err
	}

	jobID, err := h.Jobs.CreateJobRecord(c.UserContext(), jobType, models.ConversationJobPayload{ConversationID: conv.ID})
	if err != nil {
		h.Logger.WithError(err).WithField("conversation_id", conv.ID).Errorf("Failed to create %s job", jobType)
		return utils.RespondWithError(c, fiber.StatusInternalServerError, "Could not queue job")
	}

	h.Logger.WithFields(logrus.Fields{"job_id": jobID, "job_type": jobType, "conversation_id": conv.ID}).Info("Job queued")
	return utils.RespondWithJSON(c, fiber.StatusAccepted, JobAcceptedResponse{
		JobID:          jobID,
		JobType:        jobType,
		ConversationID: conv.ID,
	})
}

// loadConversation resolves the :id parameter. Its errors are *fiber.Error
// values rendered by utils.ErrorHandler.
func (h *ApplicationHandler) loadConversation(c *fiber.Ctx) (*models.Conversation, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid conversation ID format")
	}

	conv, err := h.Conversations.GetConversation(c.UserContext(), id)
	switch {
	case errors.Is(err, db.ErrRecordNotFound):
		return nil, fiber.NewError(fiber.StatusNotFound, "Conversation not found")
	case err != nil:
		h.Logger.WithError(err).WithField("conversation_id", id).Error("Failed to load conversation")
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Could not load conversation")
	}
	return conv, nil
}

func (h *ApplicationHandler) providerError(c *fiber.Ctx, conv *models.Conversation, err error) error {
	switch {
	case elevenlabs.IsNotFound(err):
		return utils.RespondWithError(c, fiber.StatusNotFound, "Conversation not found at ElevenLabs")
	case errors.Is(err, segments.ErrTranscriptUnavailable):
		return utils.RespondWithError(c, fiber.StatusUnprocessableEntity, "Transcript not available yet")
	}
	h.Logger.WithError(err).WithField("elevenlabs_id", conv.ElevenLabsID).Error("ElevenLabs request failed")
	return utils.RespondWithError(c, fiber.StatusBadGateway, "ElevenLabs request failed")
}
