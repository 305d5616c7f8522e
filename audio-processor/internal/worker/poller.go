package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomaspozo/elevenvoice/models"
)

// Claimer hands out PENDING jobs exactly once across processors.
type Claimer interface {
	ClaimPendingJobs(ctx context.Context, limit int) ([]models.ProcessingJob, error)
}

// Decoder turns a stored job record into an executable Job.
type Decoder interface {
	Decode(rec models.ProcessingJob) (Job, error)
}

// Submitter is the subset of Dispatcher the Poller needs.
type Submitter interface {
	SubmitJob(job Job) error
	FreeSlots() int
}

// Poller periodically claims PENDING jobs from the store and submits them
// to the dispatcher, never claiming more than the queue can take.
type Poller struct {
	claimer  Claimer
	decoder  Decoder
	queue    Submitter
	recorder StatusRecorder
	interval time.Duration
	log      logrus.FieldLogger
}

func NewPoller(claimer Claimer, decoder Decoder, queue Submitter, recorder StatusRecorder, interval time.Duration, log logrus.FieldLogger) *Poller {
	return &Poller{
		claimer:  claimer,
		decoder:  decoder,
		queue:    queue,
		recorder: recorder,
		interval: interval,
		log:      log,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.WithField("interval", p.interval.String()).Info("Poller started")
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.WithError(err).Error("Polling for pending jobs failed")
		}

		select {
		case <-ctx.Done():
			p.log.Info("Poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce claims and submits one batch and returns how many jobs were
// submitted. Jobs claimed before a claim error are still handled, then the
// error is returned.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	free := p.queue.FreeSlots()
	if free <= 0 {
		return 0, nil
	}

	claimed, claimErr := p.claimer.ClaimPendingJobs(ctx, free)

	submitted := 0
	for _, rec := range claimed {
		log := p.log.WithFields(logrus.Fields{"job_id": rec.JobID, "job_type": rec.JobType})

		job, err := p.decoder.Decode(rec)
		if err != nil {
			log.WithError(err).Error("Rejecting undecodable job")
			p.record(ctx, rec.JobID, models.JobStatusFailed, err.Error())
			continue
		}

		if err := p.queue.SubmitJob(job); err != nil {
			log.WithError(err).Warn("Could not submit claimed job; returning it to PENDING")
			p.record(ctx, rec.JobID, models.JobStatusPending, "")
			continue
		}
		submitted++
	}
	return submitted, claimErr
}

func (p *Poller) record(ctx context.Context, jobID string, status models.JobStatus, errMsg string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := p.recorder.UpdateJobStatus(rctx, jobID, status, nil, errMsg); err != nil {
		p.log.WithError(err).WithField("job_id", jobID).Error("Failed to record job status")
	}
}
