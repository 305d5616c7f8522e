package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tomaspozo/elevenvoice/internal/segments"
	"github.com/tomaspozo/elevenvoice/models"
)

const sqliteSchema = `
	PRAGMA busy_timeout       = 10000;
	PRAGMA journal_mode       = WAL;
	PRAGMA synchronous        = NORMAL;
	PRAGMA foreign_keys       = ON;
	PRAGMA temp_store         = MEMORY;

	create table if not exists audio_job_statuses (
		job_id text primary key not null,
		job_type text not null,
		status text not null,
		input_payload text,
		output_details text,
		error_message text,
		created_at timestamp not null,
		updated_at timestamp not null
	);

	create index if not exists audio_job_statuses_status on audio_job_statuses (status, created_at);

	create table if not exists conversations (
		id text primary key not null,
		user_id text,
		elevenlabs_id text not null,
		audio_saved_at timestamp,
		user_segments text,
		processed_at timestamp,
		source_audio_hash text,
		user_audio_hash text,
		created_at timestamp not null,
		updated_at timestamp not null
	);

	create table if not exists extractions (
		id integer primary key autoincrement not null,
		source_name text not null,
		source_audio_hash text not null,
		user_audio_hash text not null,
		user_segments text not null,
		dropped_segments integer not null default 0,
		strategy text not null,
		source_duration_ms integer not null,
		created_at timestamp not null
	);

	create index if not exists extractions_source_hash on extractions (source_audio_hash);`

// SQLiteStore is a single-file JobStore and ConversationStore for running
// the processor without Supabase, and the ledger of offline extractions.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// One writer keeps claims serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (r *SQLiteStore) Close() error {
	return r.db.Close()
}

func (r *SQLiteStore) CreateJobRecord(ctx context.Context, jobType string, inputPayload interface{}) (string, error) {
	payloadBytes, err := json.Marshal(inputPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal input payload: %w", err)
	}

	jobID := uuid.NewString()
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		insert into audio_job_statuses (job_id, job_type, status, input_payload, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)`,
		jobID, jobType, string(models.JobStatusPending), string(payloadBytes), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("persisting job into sqlite: %w", err)
	}
	return jobID, nil
}

func (r *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, outputDetails interface{}, errorMessage string) error {
	var output, errMsg sql.NullString
	if outputDetails != nil {
		b, err := json.Marshal(outputDetails)
		if err != nil {
			return fmt.Errorf("failed to marshal output details: %w", err)
		}
		output = sql.NullString{String: string(b), Valid: true}
	}
	if errorMessage != "" {
		errMsg = sql.NullString{String: errorMessage, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		update audio_job_statuses
		set status = $1,
			output_details = coalesce($2, output_details),
			error_message = coalesce($3, error_message),
			updated_at = $4
		where job_id = $5`,
		string(status), output, errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", jobID, err)
	}
	return requireOneRow(res, "job", jobID)
}

func (r *SQLiteStore) ClaimPendingJobs(ctx context.Context, limit int) ([]models.ProcessingJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claiming jobs: begin trx: %w", err)
	}

	jobs, err := r.claimPending(ctx, tx, limit)
	if err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return nil, fmt.Errorf("rollback claim jobs: %w", rerr)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claiming jobs: commiting: %w", err)
	}
	return jobs, nil
}

func (r *SQLiteStore) claimPending(ctx context.Context, tx *sql.Tx, limit int) ([]models.ProcessingJob, error) {
	rows, err := tx.QueryContext(ctx, `
		select job_id, job_type, status, input_payload, output_details, error_message, created_at, updated_at
		from audio_job_statuses
		where status = $1
		order by created_at, job_id
		limit $2`,
		string(models.JobStatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending jobs: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range jobs {
		_, err := tx.ExecContext(ctx,
			"update audio_job_statuses set status = $1, updated_at = $2 where job_id = $3",
			string(models.JobStatusProcessing), now, jobs[i].JobID,
		)
		if err != nil {
			return nil, fmt.Errorf("claiming job %s: %w", jobs[i].JobID, err)
		}
		jobs[i].Status = models.JobStatusProcessing
		jobs[i].UpdatedAt = &now
	}
	return jobs, nil
}

func (r *SQLiteStore) GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		select job_id, job_type, status, input_payload, output_details, error_message, created_at, updated_at
		from audio_job_statuses
		where job_id = $1`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrRecordNotFound)
	}
	return &jobs[0], nil
}

func scanJobs(rows *sql.Rows) ([]models.ProcessingJob, error) {
	defer rows.Close()

	var jobs []models.ProcessingJob
	for rows.Next() {
		var (
			job                     models.ProcessingJob
			status                  string
			payload, output, errMsg sql.NullString
			createdAt, updatedAt    time.Time
		)
		err := rows.Scan(&job.JobID, &job.JobType, &status, &payload, &output, &errMsg, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		job.Status = models.JobStatus(status)
		if payload.Valid {
			job.InputPayload = json.RawMessage(payload.String)
		}
		if output.Valid {
			job.OutputDetails = json.RawMessage(output.String)
		}
		if errMsg.Valid {
			job.ErrorMessage = &errMsg.String
		}
		job.CreatedAt = &createdAt
		job.UpdatedAt = &updatedAt
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

func (r *SQLiteStore) CreateConversation(ctx context.Context, elevenLabsID string, userID *uuid.UUID) (*models.Conversation, error) {
	now := time.Now().UTC()
	conv := models.Conversation{
		ID:           uuid.New(),
		UserID:       userID,
		ElevenLabsID: elevenLabsID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var user sql.NullString
	if userID != nil {
		user = sql.NullString{String: userID.String(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		insert into conversations (id, user_id, elevenlabs_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5)`,
		conv.ID.String(), user, elevenLabsID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("persisting conversation into sqlite: %w", err)
	}
	return &conv, nil
}

func (r *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var (
		conv                         models.Conversation
		rawID                        string
		user, segs, srcHash, usrHash sql.NullString
		audioSavedAt, processedAt    sql.NullTime
	)
	err := r.db.
		QueryRowContext(ctx, `
			select id, user_id, elevenlabs_id, audio_saved_at, user_segments, processed_at,
				source_audio_hash, user_audio_hash, created_at, updated_at
			from conversations
			where id = $1`,
			id.String(),
		).
		Scan(&rawID, &user, &conv.ElevenLabsID, &audioSavedAt, &segs, &processedAt,
			&srcHash, &usrHash, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}

	conv.ID = id
	if user.Valid {
		uid, err := uuid.Parse(user.String)
		if err != nil {
			return nil, fmt.Errorf("conversation %s: invalid user_id: %w", id, err)
		}
		conv.UserID = &uid
	}
	if audioSavedAt.Valid {
		conv.AudioSavedAt = &audioSavedAt.Time
	}
	if processedAt.Valid {
		conv.ProcessedAt = &processedAt.Time
	}
	if segs.Valid {
		if err := json.Unmarshal([]byte(segs.String), &conv.UserSegments); err != nil {
			return nil, fmt.Errorf("conversation %s: decoding user_segments: %w", id, err)
		}
	}
	if srcHash.Valid {
		conv.SourceAudioHash = &srcHash.String
	}
	if usrHash.Valid {
		conv.UserAudioHash = &usrHash.String
	}
	return &conv, nil
}

func (r *SQLiteStore) MarkAudioSaved(ctx context.Context, id uuid.UUID, sourceAudioHash string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		update conversations
		set audio_saved_at = $1, source_audio_hash = $2, updated_at = $3
		where id = $4`,
		now, sourceAudioHash, now, id.String(),
	)
	if err != nil {
		return fmt.Errorf("updating conversation %s audio_saved_at: %w", id, err)
	}
	return requireOneRow(res, "conversation", id.String())
}

func (r *SQLiteStore) SaveUserSegments(ctx context.Context, id uuid.UUID, segs []segments.Segment, userAudioHash string) error {
	b, err := json.Marshal(segs)
	if err != nil {
		return fmt.Errorf("encoding user_segments: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		update conversations
		set user_segments = $1, user_audio_hash = $2, processed_at = $3, updated_at = $4
		where id = $5`,
		string(b), userAudioHash, now, now, id.String(),
	)
	if err != nil {
		return fmt.Errorf("updating conversation %s user_segments: %w", id, err)
	}
	return requireOneRow(res, "conversation", id.String())
}

// Extraction is one offline run recorded in the ledger.
type Extraction struct {
	ID              int64
	SourceName      string
	SourceAudioHash string
	UserAudioHash   string
	UserSegments    []segments.Segment
	DroppedSegments int
	Strategy        string
	SourceDuration  time.Duration
	CreatedAt       time.Time
}

func (r *SQLiteStore) RecordExtraction(ctx context.Context, e Extraction) (Extraction, error) {
	b, err := json.Marshal(e.UserSegments)
	if err != nil {
		return e, fmt.Errorf("encoding user_segments: %w", err)
	}
	e.CreatedAt = time.Now().UTC()

	err = r.db.
		QueryRowContext(ctx, `
			insert into extractions (source_name, source_audio_hash, user_audio_hash, user_segments,
				dropped_segments, strategy, source_duration_ms, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
			returning id`,
			e.SourceName, e.SourceAudioHash, e.UserAudioHash, string(b),
			e.DroppedSegments, e.Strategy, e.SourceDuration.Milliseconds(), e.CreatedAt,
		).
		Scan(&e.ID)
	if err != nil {
		return e, fmt.Errorf("persisting extraction into sqlite: %w", err)
	}
	return e, nil
}

// LatestExtraction returns the most recent extraction of the source audio
// with the given hash.
func (r *SQLiteStore) LatestExtraction(ctx context.Context, sourceAudioHash string) (Extraction, error) {
	var (
		e          Extraction
		segs       string
		durationMs int64
	)
	err := r.db.
		QueryRowContext(ctx, `
			select id, source_name, source_audio_hash, user_audio_hash, user_segments,
				dropped_segments, strategy, source_duration_ms, created_at
			from extractions
			where source_audio_hash = $1
			order by id desc
			limit 1`,
			sourceAudioHash,
		).
		Scan(&e.ID, &e.SourceName, &e.SourceAudioHash, &e.UserAudioHash, &segs,
			&e.DroppedSegments, &e.Strategy, &durationMs, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("extraction of %s: %w", sourceAudioHash, ErrRecordNotFound)
	}
	if err != nil {
		return e, fmt.Errorf("get extraction by hash: %w", err)
	}
	if err := json.Unmarshal([]byte(segs), &e.UserSegments); err != nil {
		return e, fmt.Errorf("decoding user_segments: %w", err)
	}
	e.SourceDuration = time.Duration(durationMs) * time.Millisecond
	return e, nil
}

func requireOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrRecordNotFound)
	}
	return nil
}
