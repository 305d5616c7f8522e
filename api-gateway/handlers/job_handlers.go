package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/tomaspozo/elevenvoice/api-gateway/utils"
	"github.com/tomaspozo/elevenvoice/internal/db"
)

// GetJobStatus godoc
// @Summary Get job status
// @Description Retrieves the status, output details and error message of a processing job.
// @Tags jobs
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} utils.SuccessResponse{data=models.ProcessingJob}
// @Failure 400 {object} utils.ErrorResponse
// @Failure 404 {object} utils.ErrorResponse
// @Failure 500 {object} utils.ErrorResponse
// @Router /jobs/{jobId} [get]
func (h *ApplicationHandler) GetJobStatus(c *fiber.Ctx) error {
	jobIDStr := c.Params("jobId")
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		h.Logger.WithField("job_id", jobIDStr).Warn("Invalid job ID format")
		return utils.RespondWithError(c, fiber.StatusBadRequest, "Invalid job ID format")
	}

	job, err := h.Jobs.GetJob(c.UserContext(), jobID.String())
	switch {
	case errors.Is(err, db.ErrRecordNotFound):
		return utils.RespondWithError(c, fiber.StatusNotFound, "Job not found")
	case err != nil:
		h.Logger.WithError(err).WithField("job_id", jobID).Error("Error fetching job")
		return utils.RespondWithError(c, fiber.StatusInternalServerError, "Could not retrieve job status")
	}

	h.Logger.WithFields(map[string]interface{}{"job_id": jobID, "status": job.Status}).Debug("Retrieved job status")
	return utils.RespondWithJSON(c, fiber.StatusOK, job)
}
