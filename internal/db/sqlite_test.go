package db

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaspozo/elevenvoice/internal/segments"
	"github.com/tomaspozo/elevenvoice/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteJobLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	payload := models.ConversationJobPayload{ConversationID: uuid.New()}
	jobID, err := store.CreateJobRecord(ctx, models.JobTypeProcessConversationAudio, payload)
	require.NoError(t, err)

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobTypeProcessConversationAudio, job.JobType)

	var decoded models.ConversationJobPayload
	require.NoError(t, json.Unmarshal(job.InputPayload, &decoded))
	assert.Equal(t, payload, decoded)

	require.NoError(t, store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted, map[string]string{"user_audio_path": "conversations/x/user.mp3"}, ""))
	job, err = store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.JSONEq(t, `{"user_audio_path":"conversations/x/user.mp3"}`, string(job.OutputDetails))
	assert.Nil(t, job.ErrorMessage)
}

func TestSQLiteUpdateKeepsOutputWhenOmitted(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	jobID, err := store.CreateJobRecord(ctx, models.JobTypeSaveConversationAudio, map[string]string{})
	require.NoError(t, err)
	require.NoError(t, store.UpdateJobStatus(ctx, jobID, models.JobStatusProcessing, map[string]int{"attempt": 1}, ""))
	require.NoError(t, store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed, nil, "boom"))

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "boom", *job.ErrorMessage)
	assert.JSONEq(t, `{"attempt":1}`, string(job.OutputDetails))
}

func TestSQLiteMissingRecords(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.GetJob(ctx, "nope")
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	err = store.UpdateJobStatus(ctx, "nope", models.JobStatusFailed, nil, "x")
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	_, err = store.GetConversation(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	err = store.MarkAudioSaved(ctx, uuid.New(), "hash")
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}

func TestSQLiteClaimPendingJobs(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := store.CreateJobRecord(ctx, models.JobTypeSaveConversationAudio, map[string]int{"n": i})
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(time.Millisecond)
	}

	claimed, err := store.ClaimPendingJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, ids[0], claimed[0].JobID)
	assert.Equal(t, ids[1], claimed[1].JobID)
	for _, job := range claimed {
		assert.Equal(t, models.JobStatusProcessing, job.Status)
	}

	claimed, err = store.ClaimPendingJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, ids[2], claimed[0].JobID)

	claimed, err = store.ClaimPendingJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestSQLiteConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	userID := uuid.New()
	conv, err := store.CreateConversation(ctx, "conv_abc", &userID)
	require.NoError(t, err)

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "conv_abc", got.ElevenLabsID)
	require.NotNil(t, got.UserID)
	assert.Equal(t, userID, *got.UserID)
	assert.Nil(t, got.AudioSavedAt)
	assert.Nil(t, got.ProcessedAt)

	require.NoError(t, store.MarkAudioSaved(ctx, conv.ID, "srchash"))
	segs := []segments.Segment{{StartTime: 0.9, Duration: 5.2}, {StartTime: 7.4, Duration: 2.2}}
	require.NoError(t, store.SaveUserSegments(ctx, conv.ID, segs, "userhash"))

	got, err = store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.AudioSavedAt)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, segs, got.UserSegments)
	require.NotNil(t, got.SourceAudioHash)
	assert.Equal(t, "srchash", *got.SourceAudioHash)
	require.NotNil(t, got.UserAudioHash)
	assert.Equal(t, "userhash", *got.UserAudioHash)
}

func TestSQLiteExtractionLedger(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.LatestExtraction(ctx, "abc")
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	first, err := store.RecordExtraction(ctx, Extraction{
		SourceName:      "call.mp3",
		SourceAudioHash: "abc",
		UserAudioHash:   "def",
		UserSegments:    []segments.Segment{{StartTime: 0.9, Duration: 5.2}},
		Strategy:        "filtergraph",
		SourceDuration:  20 * time.Second,
	})
	require.NoError(t, err)
	second, err := store.RecordExtraction(ctx, Extraction{
		SourceName:      "call.mp3",
		SourceAudioHash: "abc",
		UserAudioHash:   "ghi",
		UserSegments:    []segments.Segment{},
		DroppedSegments: 1,
		Strategy:        "demuxer",
		SourceDuration:  20500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	latest, err := store.LatestExtraction(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "ghi", latest.UserAudioHash)
	assert.Equal(t, 1, latest.DroppedSegments)
	assert.Equal(t, 20500*time.Millisecond, latest.SourceDuration)
	assert.Equal(t, []segments.Segment{}, latest.UserSegments)
}
