package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"veil/internal/queue"
	"veil/internal/testsupport"
)

func TestPoolDrainsJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.WorkerCount = 2
	cfg.Workflow.QueuePollInterval = 1
	store := testsupport.MustOpenStore(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const jobCount = 6
	var handled atomic.Int32
	pool := queue.NewPool(cfg, store, nil)
	pool.Register(queue.TypeVideoPreloading, func(context.Context, *queue.Job) error {
		handled.Add(1)
		return nil
	})

	for i := 0; i < jobCount; i++ {
		if _, err := store.Enqueue(ctx, queue.TypeVideoPreloading, "", queue.PriorityNormal); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Completed == jobCount {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	<-done

	if got := handled.Load(); got != jobCount {
		t.Fatalf("expected %d handled jobs, got %d", jobCount, got)
	}
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Completed != jobCount {
		t.Fatalf("expected %d completed, got %d", jobCount, stats.Completed)
	}
}

func TestPoolProcessingNeverExceedsWorkerCount(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.WorkerCount = 1
	cfg.Workflow.QueuePollInterval = 1
	store := testsupport.MustOpenStore(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := queue.NewPool(cfg, store, nil)
	pool.Register(queue.TypeCacheOptimization, func(ctx context.Context, _ *queue.Job) error {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	})

	for i := 0; i < 4; i++ {
		if _, err := store.Enqueue(ctx, queue.TypeCacheOptimization, "", queue.PriorityNormal); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	lastCompleted := 0
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Processing > 1 {
			t.Fatalf("processing count %d exceeds worker cap", stats.Processing)
		}
		if stats.Completed < lastCompleted {
			t.Fatalf("completed count regressed from %d to %d", lastCompleted, stats.Completed)
		}
		lastCompleted = stats.Completed
		if stats.Completed == 4 {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	cancel()
	<-done

	if lastCompleted != 4 {
		t.Fatalf("expected all jobs completed, got %d", lastCompleted)
	}
}

func TestPoolRetriesFailingHandler(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.WorkerCount = 1
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.JobMaxAttempts = 2
	store := testsupport.MustOpenStore(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	pool := queue.NewPool(cfg, store, nil)
	pool.Register(queue.TypeQualityVariant, func(context.Context, *queue.Job) error {
		attempts.Add(1)
		return errors.New("variant generation failed")
	})

	job, err := store.Enqueue(ctx, queue.TypeQualityVariant, "", queue.PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		current, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if current.Status == queue.StatusFailed {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	<-done

	final, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.Status != queue.StatusFailed {
		t.Fatalf("expected terminal failure, got %s", final.Status)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if final.ErrorMessage == "" {
		t.Fatal("expected recorded error message")
	}
}
