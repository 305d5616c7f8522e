package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomaspozo/elevenvoice/models"
)

// ErrQueueFull is returned by SubmitJob when the job queue has no room.
var ErrQueueFull = errors.New("job queue full")

// Job represents a unit of work to be executed.
type Job interface {
	ID() string
	Type() string
	// Payload returns the job input as stored in input_payload.
	Payload() interface{}
	// Execute performs the work and returns the output details to store.
	Execute(ctx context.Context) (interface{}, error)
}

// StatusRecorder persists job state transitions. db.JobStore satisfies it.
type StatusRecorder interface {
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, outputDetails interface{}, errorMessage string) error
}

const recordTimeout = 10 * time.Second

// Worker is responsible for processing jobs.
// It runs in its own goroutine and registers its job channel with the pool
// whenever it is idle.
type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Quit       chan struct{}
	Wg         *sync.WaitGroup

	recorder StatusRecorder
	log      logrus.FieldLogger
}

// NewWorker creates a new Worker.
func NewWorker(id int, workerPool chan chan Job, wg *sync.WaitGroup, recorder StatusRecorder, log logrus.FieldLogger) Worker {
	return Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Quit:       make(chan struct{}),
		Wg:         wg,
		recorder:   recorder,
		log:        log.WithField("worker", id),
	}
}

// Start makes the Worker listen for jobs on its JobChannel. Jobs run with
// ctx.
func (w Worker) Start(ctx context.Context) {
	w.Wg.Add(1)
	go func() {
		defer w.Wg.Done()
		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-w.Quit:
				return
			}

			select {
			case job := <-w.JobChannel:
				w.process(ctx, job)
			case <-w.Quit:
				return
			}
		}
	}()
}

func (w Worker) process(ctx context.Context, job Job) {
	log := w.log.WithFields(logrus.Fields{"job_id": job.ID(), "job_type": job.Type()})
	log.Info("Started job")
	w.record(ctx, job.ID(), models.JobStatusProcessing, nil, "")

	start := time.Now()
	output, err := job.Execute(ctx)
	if err != nil {
		log.WithError(err).Error("Job failed")
		w.record(ctx, job.ID(), models.JobStatusFailed, nil, err.Error())
		return
	}

	log.WithField("elapsed_ms", time.Since(start).Milliseconds()).Info("Finished job")
	w.record(ctx, job.ID(), models.JobStatusCompleted, output, "")
}

func (w Worker) record(ctx context.Context, jobID string, status models.JobStatus, output interface{}, errMsg string) {
	if w.recorder == nil {
		return
	}
	// Terminal states are written even after ctx is cancelled.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := w.recorder.UpdateJobStatus(rctx, jobID, status, output, errMsg); err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{"job_id": jobID, "status": status}).Error("Failed to record job status")
	}
}

// Stop signals the worker to stop once its current job is done.
func (w Worker) Stop() {
	close(w.Quit)
}

// Dispatcher manages a pool of workers and dispatches jobs to them.
type Dispatcher struct {
	MaxWorkers int
	WorkerPool chan chan Job
	JobQueue   chan Job
	Workers    []Worker
	Wg         sync.WaitGroup
	Quit       chan struct{}

	recorder     StatusRecorder
	log          logrus.FieldLogger
	dispatchDone chan struct{}
	started      bool
	stopOnce     sync.Once
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(maxWorkers int, jobQueueSize int, recorder StatusRecorder, log logrus.FieldLogger) *Dispatcher {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Dispatcher{
		MaxWorkers:   maxWorkers,
		WorkerPool:   make(chan chan Job, maxWorkers),
		JobQueue:     make(chan Job, jobQueueSize),
		Workers:      make([]Worker, 0, maxWorkers),
		Quit:         make(chan struct{}),
		recorder:     recorder,
		log:          log,
		dispatchDone: make(chan struct{}),
	}
}

// Run starts the dispatcher and its workers. ctx is handed to every job.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.WithField("workers", d.MaxWorkers).Info("Dispatcher starting")
	d.started = true
	for i := 1; i <= d.MaxWorkers; i++ {
		worker := NewWorker(i, d.WorkerPool, &d.Wg, d.recorder, d.log)
		d.Workers = append(d.Workers, worker)
		worker.Start(ctx)
	}

	go d.dispatch()
}

// dispatch hands queued jobs to idle workers, one at a time, so the queue
// stays the only buffer.
func (d *Dispatcher) dispatch() {
	defer close(d.dispatchDone)
	for {
		select {
		case job := <-d.JobQueue:
			select {
			case jobChannel := <-d.WorkerPool:
				jobChannel <- job
			case <-d.Quit:
				d.requeue(job)
				return
			}
		case <-d.Quit:
			return
		}
	}
}

// SubmitJob adds a job to the job queue without blocking.
func (d *Dispatcher) SubmitJob(job Job) error {
	select {
	case <-d.Quit:
		return errors.New("dispatcher stopped")
	default:
	}

	select {
	case d.JobQueue <- job:
		d.log.WithField("job_id", job.ID()).Debug("Job submitted to queue")
		return nil
	default:
		d.log.WithField("job_id", job.ID()).Warn("Job queue full")
		return ErrQueueFull
	}
}

// FreeSlots reports how many jobs can be submitted before the queue is full.
func (d *Dispatcher) FreeSlots() int {
	return cap(d.JobQueue) - len(d.JobQueue)
}

// Stop gracefully shuts down the dispatcher. Workers finish their current
// job; jobs still queued go back to PENDING for the next processor.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.log.Info("Dispatcher: initiating shutdown")
		close(d.Quit)
		if !d.started {
			return
		}
		<-d.dispatchDone

		for _, worker := range d.Workers {
			worker.Stop()
		}
		d.Wg.Wait()

		for {
			select {
			case job := <-d.JobQueue:
				d.requeue(job)
			default:
				d.log.Info("Dispatcher: shutdown complete")
				return
			}
		}
	})
}

func (d *Dispatcher) requeue(job Job) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := d.recorder.UpdateJobStatus(ctx, job.ID(), models.JobStatusPending, nil, ""); err != nil {
		d.log.WithError(err).WithField("job_id", job.ID()).Error("Failed to requeue job")
		return
	}
	d.log.WithField("job_id", job.ID()).Info("Requeued unstarted job")
}
