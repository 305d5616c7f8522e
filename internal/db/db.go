package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	postgrest "github.com/supabase-community/postgrest-go"

	"github.com/tomaspozo/elevenvoice/models"
)

// ErrRecordNotFound is returned when a lookup matches no row.
var ErrRecordNotFound = errors.New("record not found")

const jobStatusTable = "audio_job_statuses"

// JobStore persists the lifecycle of processing jobs.
type JobStore interface {
	// CreateJobRecord inserts a PENDING job and returns its generated ID.
	CreateJobRecord(ctx context.Context, jobType string, inputPayload interface{}) (string, error)
	// UpdateJobStatus sets the status and, when given, the output details and
	// error message of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, outputDetails interface{}, errorMessage string) error
	// ClaimPendingJobs moves up to limit PENDING jobs to PROCESSING and
	// returns the ones this caller won.
	ClaimPendingJobs(ctx context.Context, limit int) ([]models.ProcessingJob, error)
	GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error)
}

// QueryClient is implemented by *postgrest.Client and *supabase.Client.
type QueryClient interface {
	From(table string) *postgrest.QueryBuilder
}

// PostgrestStore keeps jobs and conversations in Supabase through PostgREST.
type PostgrestStore struct {
	client QueryClient
	log    logrus.FieldLogger
}

// NewPostgrestClient creates a PostgREST client authenticated with the
// service key.
func NewPostgrestClient(supabaseURL, serviceKey string) (*postgrest.Client, error) {
	if supabaseURL == "" || serviceKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}

	client := postgrest.NewClient(supabaseURL+"/rest/v1", "", map[string]string{
		"apikey":        serviceKey,
		"Authorization": fmt.Sprintf("Bearer %s", serviceKey),
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("failed to initialize Supabase client: %w", client.ClientError)
	}
	return client, nil
}

func NewPostgrestStore(client QueryClient, log logrus.FieldLogger) *PostgrestStore {
	return &PostgrestStore{client: client, log: log}
}

func (s *PostgrestStore) CreateJobRecord(ctx context.Context, jobType string, inputPayload interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	jobID := uuid.NewString()

	payloadBytes, err := json.Marshal(inputPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal input payload: %w", err)
	}

	newRecord := models.ProcessingJob{
		JobID:        jobID,
		JobType:      jobType,
		Status:       models.JobStatusPending,
		InputPayload: payloadBytes,
	}

	var results []models.ProcessingJob
	_, err = s.client.From(jobStatusTable).Insert(newRecord, false, "", "representation", "").ExecuteTo(&results)
	if err != nil {
		return "", fmt.Errorf("failed to insert job record: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no record returned after insert, job_id: %s", jobID)
	}

	s.log.WithFields(logrus.Fields{"job_id": jobID, "job_type": jobType}).Info("Created job record")
	return jobID, nil
}

func (s *PostgrestStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, outputDetails interface{}, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	updateData, err := statusUpdate(status, outputDetails, errorMessage)
	if err != nil {
		return err
	}

	var results []models.ProcessingJob
	_, err = s.client.From(jobStatusTable).Update(updateData, "representation", "").Eq("job_id", jobID).ExecuteTo(&results)
	if err != nil {
		return fmt.Errorf("failed to update job record %s: %w", jobID, err)
	}
	if len(results) == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrRecordNotFound)
	}

	s.log.WithFields(logrus.Fields{"job_id": jobID, "status": status}).Info("Updated job status")
	return nil
}

func (s *PostgrestStore) ClaimPendingJobs(ctx context.Context, limit int) ([]models.ProcessingJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pending []models.ProcessingJob
	_, err := s.client.From(jobStatusTable).
		Select("*", "", false).
		Eq("status", string(models.JobStatusPending)).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(limit, "").
		ExecuteTo(&pending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	claimed := make([]models.ProcessingJob, 0, len(pending))
	for _, job := range pending {
		if err := ctx.Err(); err != nil {
			return claimed, err
		}

		update := map[string]interface{}{
			"status":     models.JobStatusProcessing,
			"updated_at": time.Now().UTC(),
		}
		var won []models.ProcessingJob
		// The status filter makes the update a no-op when another worker
		// claimed the row first.
		_, err := s.client.From(jobStatusTable).
			Update(update, "representation", "").
			Eq("job_id", job.JobID).
			Eq("status", string(models.JobStatusPending)).
			ExecuteTo(&won)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim job %s: %w", job.JobID, err)
		}
		if len(won) == 0 {
			continue
		}
		claimed = append(claimed, won[0])
	}
	return claimed, nil
}

func (s *PostgrestStore) GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var jobs []models.ProcessingJob
	_, err := s.client.From(jobStatusTable).
		Select("*", "", false).
		Eq("job_id", jobID).
		Limit(1, "").
		ExecuteTo(&jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrRecordNotFound)
	}
	return &jobs[0], nil
}

func statusUpdate(status models.JobStatus, outputDetails interface{}, errorMessage string) (map[string]interface{}, error) {
	updateData := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}

	if outputDetails != nil {
		outputBytes, err := json.Marshal(outputDetails)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal output details: %w", err)
		}
		updateData["output_details"] = json.RawMessage(outputBytes)
	}

	if errorMessage != "" {
		updateData["error_message"] = errorMessage
	}
	return updateData, nil
}
