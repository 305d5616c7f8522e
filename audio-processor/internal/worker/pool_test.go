package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaspozo/elevenvoice/models"
)

type statusUpdate struct {
	JobID  string
	Status models.JobStatus
	Output interface{}
	ErrMsg string
}

type memoryRecorder struct {
	mu      sync.Mutex
	updates []statusUpdate
}

func (m *memoryRecorder) UpdateJobStatus(_ context.Context, jobID string, status models.JobStatus, output interface{}, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, statusUpdate{jobID, status, output, errMsg})
	return nil
}

func (m *memoryRecorder) statuses(jobID string) []models.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.JobStatus
	for _, u := range m.updates {
		if u.JobID == jobID {
			out = append(out, u.Status)
		}
	}
	return out
}

func (m *memoryRecorder) last(jobID string) statusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last statusUpdate
	for _, u := range m.updates {
		if u.JobID == jobID {
			last = u
		}
	}
	return last
}

type funcJob struct {
	id  string
	run func(ctx context.Context) (interface{}, error)
}

func (j funcJob) ID() string           { return j.id }
func (j funcJob) Type() string         { return "TEST" }
func (j funcJob) Payload() interface{} { return nil }
func (j funcJob) Execute(ctx context.Context) (interface{}, error) {
	return j.run(ctx)
}

func TestDispatcherRecordsOutcomes(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rec := &memoryRecorder{}
	d := NewDispatcher(2, 4, rec, logger)
	d.Run(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	require.NoError(t, d.SubmitJob(funcJob{id: "ok", run: func(context.Context) (interface{}, error) {
		defer wg.Done()
		return map[string]string{"done": "yes"}, nil
	}}))
	require.NoError(t, d.SubmitJob(funcJob{id: "bad", run: func(context.Context) (interface{}, error) {
		defer wg.Done()
		return nil, errors.New("engine failed")
	}}))
	wg.Wait()
	d.Stop()

	assert.Equal(t, []models.JobStatus{models.JobStatusProcessing, models.JobStatusCompleted}, rec.statuses("ok"))
	assert.Equal(t, map[string]string{"done": "yes"}, rec.last("ok").Output)
	assert.Equal(t, []models.JobStatus{models.JobStatusProcessing, models.JobStatusFailed}, rec.statuses("bad"))
	assert.Equal(t, "engine failed", rec.last("bad").ErrMsg)
}

func TestSubmitJobReturnsErrQueueFull(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(1, 1, nil, logger)

	noop := func(context.Context) (interface{}, error) { return nil, nil }
	require.NoError(t, d.SubmitJob(funcJob{id: "a", run: noop}))
	assert.Equal(t, 0, d.FreeSlots())
	err := d.SubmitJob(funcJob{id: "b", run: noop})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestStopRequeuesUnstartedJobs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rec := &memoryRecorder{}
	d := NewDispatcher(1, 4, rec, logger)
	d.Run(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, d.SubmitJob(funcJob{id: "running", run: func(context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	}}))
	<-started
	require.NoError(t, d.SubmitJob(funcJob{id: "queued", run: func(context.Context) (interface{}, error) {
		t.Error("queued job must not run after Stop")
		return nil, nil
	}}))

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the running job finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped

	assert.Equal(t, []models.JobStatus{models.JobStatusProcessing, models.JobStatusCompleted}, rec.statuses("running"))
	assert.Equal(t, []models.JobStatus{models.JobStatusPending}, rec.statuses("queued"))
	assert.Error(t, d.SubmitJob(funcJob{id: "late"}))
}

func TestJobsSeeTheRunContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rec := &memoryRecorder{}
	d := NewDispatcher(1, 1, rec, logger)
	ctx, cancel := context.WithCancel(context.Background())
	d.Run(ctx)

	done := make(chan struct{})
	require.NoError(t, d.SubmitJob(funcJob{id: "slow", run: func(ctx context.Context) (interface{}, error) {
		defer close(done)
		<-ctx.Done()
		return nil, ctx.Err()
	}}))
	cancel()
	<-done
	d.Stop()

	last := rec.last("slow")
	assert.Equal(t, models.JobStatusFailed, last.Status)
	assert.Equal(t, context.Canceled.Error(), last.ErrMsg)
}
