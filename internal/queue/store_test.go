package queue_test

import (
	"context"
	"testing"
	"time"

	"veil/internal/queue"
	"veil/internal/testsupport"
)

func TestEnqueueRejectsUnknownType(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if _, err := store.Enqueue(context.Background(), "defrag", "", queue.PriorityNormal); err == nil {
		t.Fatal("expected error for unknown job type")
	}
}

func TestClaimHonorsPriorityThenAge(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	low, err := store.Enqueue(ctx, queue.TypeCacheOptimization, "", queue.PriorityLow)
	if err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	normalFirst, err := store.Enqueue(ctx, queue.TypeVideoPreloading, "", queue.PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue normal: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	normalSecond, err := store.Enqueue(ctx, queue.TypeVideoPreloading, "", queue.PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue normal: %v", err)
	}
	high, err := store.Enqueue(ctx, queue.TypeQualityVariant, "", queue.PriorityHigh)
	if err != nil {
		t.Fatalf("enqueue high: %v", err)
	}

	wantOrder := []string{high.ID, normalFirst.ID, normalSecond.ID, low.ID}
	for i, wantID := range wantOrder {
		claimed, err := store.Claim(ctx)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if claimed == nil {
			t.Fatalf("claim %d: expected a job", i)
		}
		if claimed.ID != wantID {
			t.Fatalf("claim %d: expected %s, got %s", i, wantID, claimed.ID)
		}
		if claimed.Status != queue.StatusRunning {
			t.Fatalf("claim %d: expected running, got %s", i, claimed.Status)
		}
	}

	if extra, err := store.Claim(ctx); err != nil || extra != nil {
		t.Fatalf("expected empty queue, got job=%v err=%v", extra, err)
	}
}

func TestMarkFailedRequeuesWithBackoffUntilExhausted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.JobMaxAttempts = 2
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.TypeCacheOptimization, "", queue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := store.Claim(ctx)
	if err != nil || first == nil {
		t.Fatalf("first claim: job=%v err=%v", first, err)
	}
	if first.Attempts != 1 {
		t.Fatalf("expected attempt 1, got %d", first.Attempts)
	}
	if err := store.MarkFailed(ctx, first, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	requeued, err := store.GetJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if requeued.Status != queue.StatusQueued {
		t.Fatalf("expected requeue, got %s", requeued.Status)
	}
	if !requeued.NextRunAt.After(time.Now().UTC()) {
		t.Fatal("expected backoff to push next_run_at into the future")
	}
	if requeued.ErrorMessage != "boom" {
		t.Fatalf("expected recorded error, got %q", requeued.ErrorMessage)
	}

	// Not claimable until the backoff elapses.
	if job, err := store.Claim(ctx); err != nil || job != nil {
		t.Fatalf("expected no claimable job during backoff, got job=%v err=%v", job, err)
	}

	time.Sleep(1100 * time.Millisecond)
	second, err := store.Claim(ctx)
	if err != nil || second == nil {
		t.Fatalf("second claim: job=%v err=%v", second, err)
	}
	if second.Attempts != 2 {
		t.Fatalf("expected attempt 2, got %d", second.Attempts)
	}
	if err := store.MarkFailed(ctx, second, "boom again"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	terminal, err := store.GetJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if terminal.Status != queue.StatusFailed {
		t.Fatalf("expected terminal failure, got %s", terminal.Status)
	}
}

func TestStatsCountsByState(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Enqueue(ctx, queue.TypeVideoPreloading, "", queue.PriorityNormal); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	claimed, err := store.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: job=%v err=%v", claimed, err)
	}
	if err := store.MarkCompleted(ctx, claimed.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 2 || stats.Processing != 0 || stats.Completed != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestClearRemovesTerminalJobs(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.TypeCacheOptimization, "", queue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := store.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: job=%v err=%v", claimed, err)
	}
	if err := store.MarkCompleted(ctx, claimed.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.Enqueue(ctx, queue.TypeCacheOptimization, "", queue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	removed, err := store.Clear(ctx, false)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Completed != 0 {
		t.Fatalf("unexpected stats after clear %+v", stats)
	}
}
