package worker_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/retry"
	"github.com/conveyorhq/conveyor/store/memory"
	"github.com/conveyorhq/conveyor/worker"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPoolProcessesJobs(t *testing.T) {
	t.Parallel()

	store := memory.New()
	registry := job.NewRegistry()

	var processed atomic.Int32
	job.RegisterDefinition(registry, job.NewDefinition(job.TypeIngest,
		func(ctx context.Context, in struct{}) (string, error) {
			processed.Add(1)
			return "ok", nil
		}))

	exec := worker.NewExecutor(store, dlq.NewService(store, store), registry,
		retry.DefaultStrategy(), nil, slog.Default())
	pool := worker.NewPool(store, exec,
		worker.WithPoolConcurrency(4),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithLeaseDuration(time.Minute),
	)

	ctx := context.Background()
	const jobs = 20
	for i := 0; i < jobs; i++ {
		if _, err := store.EnqueueJob(ctx, queuedJob(job.TypeIngest, 3)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return processed.Load() == jobs
	})

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	counts, err := store.CountJobs(ctx, "acme", job.CountOpts{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[job.StatusCompleted] != jobs {
		t.Errorf("completed = %d, want %d", counts[job.StatusCompleted], jobs)
	}
}

func TestPoolGracefulStopWaitsForInflight(t *testing.T) {
	t.Parallel()

	store := memory.New()
	registry := job.NewRegistry()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	job.RegisterDefinition(registry, job.NewDefinition(job.TypeBatch,
		func(ctx context.Context, in struct{}) (string, error) {
			started <- struct{}{}
			<-release
			return "done", nil
		}))

	exec := worker.NewExecutor(store, dlq.NewService(store, store), registry,
		retry.DefaultStrategy(), nil, slog.Default())
	pool := worker.NewPool(store, exec,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	ctx := context.Background()
	stored, err := store.EnqueueJob(ctx, queuedJob(job.TypeBatch, 3))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	stopDone := make(chan struct{})
	go func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
		close(stopDone)
	}()

	// Stop must not return while the handler is still running.
	select {
	case <-stopDone:
		t.Fatal("Stop returned before the in-flight handler finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopDone

	got, err := store.GetJob(ctx, "acme", stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed after graceful stop", got.Status)
	}
}

func TestPoolStopDeadlineAbandonsStuckHandler(t *testing.T) {
	t.Parallel()

	store := memory.New()
	registry := job.NewRegistry()

	started := make(chan struct{}, 1)
	job.RegisterDefinition(registry, job.NewDefinition(job.TypeTrain,
		func(ctx context.Context, in struct{}) (string, error) {
			started <- struct{}{}
			<-ctx.Done()
			return "", ctx.Err()
		}))

	exec := worker.NewExecutor(store, dlq.NewService(store, store), registry,
		retry.DefaultStrategy(), nil, slog.Default())
	pool := worker.NewPool(store, exec,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	ctx := context.Background()
	if _, err := store.EnqueueJob(ctx, queuedJob(job.TypeTrain, 3)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	stopCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
