package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"veil/internal/config"
	"veil/internal/logging"
	"veil/internal/services"
)

// Handler executes one claimed job. A returned error requeues the job until
// its attempt budget runs out.
type Handler func(ctx context.Context, job *Job) error

// Pool drains the store with a fixed number of workers. Different jobs run
// concurrently up to the worker count; one job never runs twice at once
// because claims are atomic.
type Pool struct {
	logger       *slog.Logger
	store        *Store
	pollInterval time.Duration
	workerCount  int

	mu       sync.RWMutex
	handlers map[JobType]Handler
}

// NewPool builds a worker pool over the store.
func NewPool(cfg *config.Config, store *Store, logger *slog.Logger) *Pool {
	workers := cfg.Workflow.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	poll := time.Duration(cfg.Workflow.QueuePollInterval) * time.Second
	if poll <= 0 {
		poll = time.Second
	}
	return &Pool{
		logger:       logging.NewComponentLogger(logger, "queue"),
		store:        store,
		pollInterval: poll,
		workerCount:  workers,
		handlers:     make(map[JobType]Handler),
	}
}

// Register installs the handler for a job type, replacing any previous one.
func (p *Pool) Register(jobType JobType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = handler
}

// Run blocks until the context is cancelled, dispatching claimed jobs to
// their handlers.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.workLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) workLoop(ctx context.Context, worker int) {
	for {
		job, err := p.store.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("claim job", logging.Int("worker", worker), logging.Error(err))
		} else if job != nil {
			p.runJob(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Pool) runJob(ctx context.Context, job *Job) {
	jobCtx := services.WithJobID(ctx, job.ID)
	log := logging.WithContext(jobCtx, p.logger).With(
		logging.String("type", string(job.Type)),
		logging.Int("attempt", job.Attempts))

	handler := p.handlerFor(job.Type)
	if handler == nil {
		log.Error("no handler registered")
		p.fail(jobCtx, job, fmt.Sprintf("no handler registered for type %s", job.Type))
		return
	}

	log.Info("job started")
	if err := handler(jobCtx, job); err != nil {
		log.Error("job failed", logging.Error(err))
		p.fail(jobCtx, job, err.Error())
		return
	}

	if err := p.store.MarkCompleted(jobCtx, job.ID); err != nil {
		log.Error("mark completed", logging.Error(err))
		return
	}
	log.Info("job completed")
}

func (p *Pool) fail(ctx context.Context, job *Job, message string) {
	if err := p.store.MarkFailed(ctx, job, message); err != nil {
		p.logger.Error("mark failed", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
	}
	if job.Attempts >= job.MaxAttempts {
		p.logger.Error("job exhausted retries",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("type", string(job.Type)),
			logging.String("error_message", message))
	}
}

func (p *Pool) handlerFor(jobType JobType) Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers[jobType]
}
