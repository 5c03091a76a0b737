package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/store/memory"
)

func newJob(tenant string, typ job.Type) *job.Job {
	return &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		TenantID:    tenant,
		Type:        typ,
		Priority:    50,
		Status:      job.StatusQueued,
		MaxAttempts: 3,
		NotBefore:   time.Now().Add(-time.Second),
	}
}

func enqueue(t *testing.T, s *memory.Store, j *job.Job) *job.Job {
	t.Helper()
	stored, err := s.EnqueueJob(context.Background(), j)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return stored
}

func claimOne(t *testing.T, s *memory.Store, worker id.WorkerID) *job.Job {
	t.Helper()
	claimed, err := s.ClaimJobs(context.Background(), worker, 1, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(claimed))
	}
	return claimed[0]
}

// ─────────────────────────────────────────────────────────────
// Enqueue and dedup
// ─────────────────────────────────────────────────────────────

func TestEnqueueAndGet(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob("acme", job.TypeIngest)
	j.InputRef = []byte(`{"source_uri":"s3://b/k"}`)
	stored := enqueue(t, s, j)

	got, err := s.GetJob(ctx, "acme", stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != job.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
	if string(got.InputRef) != `{"source_uri":"s3://b/k"}` {
		t.Errorf("input ref = %s", got.InputRef)
	}

	// Tenant isolation: another tenant cannot see the job.
	if _, err := s.GetJob(ctx, "globex", stored.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("cross-tenant get error = %v, want ErrJobNotFound", err)
	}
}

func TestDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("live job wins", func(t *testing.T) {
		t.Parallel()

		s := memory.New()
		first := newJob("acme", job.TypeIngest)
		first.DedupKey = "ingest:doc-1"
		stored := enqueue(t, s, first)

		dup := newJob("acme", job.TypeIngest)
		dup.DedupKey = "ingest:doc-1"
		got := enqueue(t, s, dup)

		if got.ID != stored.ID {
			t.Errorf("dedup returned %s, want existing %s", got.ID, stored.ID)
		}
	})

	t.Run("different tenants do not collide", func(t *testing.T) {
		t.Parallel()

		s := memory.New()
		a := newJob("acme", job.TypeIngest)
		a.DedupKey = "ingest:doc-1"
		b := newJob("globex", job.TypeIngest)
		b.DedupKey = "ingest:doc-1"

		storedA := enqueue(t, s, a)
		storedB := enqueue(t, s, b)
		if storedA.ID == storedB.ID {
			t.Error("dedup collided across tenants")
		}
	})

	t.Run("recently completed job wins within window", func(t *testing.T) {
		t.Parallel()

		s := memory.New(memory.WithDedupWindow(time.Hour))
		worker := id.NewWorkerID()

		first := newJob("acme", job.TypeExport)
		first.DedupKey = "export:2026-09"
		stored := enqueue(t, s, first)
		claimOne(t, s, worker)
		if err := s.CompleteJob(ctx, stored.ID, worker, "out:1"); err != nil {
			t.Fatalf("complete: %v", err)
		}

		dup := newJob("acme", job.TypeExport)
		dup.DedupKey = "export:2026-09"
		got := enqueue(t, s, dup)
		if got.ID != stored.ID {
			t.Errorf("dedup returned %s, want completed %s", got.ID, stored.ID)
		}
		if got.Status != job.StatusCompleted {
			t.Errorf("status = %s, want completed", got.Status)
		}
	})

	t.Run("cancelled job does not block re-enqueue", func(t *testing.T) {
		t.Parallel()

		s := memory.New()
		first := newJob("acme", job.TypeTrain)
		first.DedupKey = "train:model-7"
		stored := enqueue(t, s, first)
		if err := s.CancelJob(ctx, "acme", stored.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}

		second := newJob("acme", job.TypeTrain)
		second.DedupKey = "train:model-7"
		got := enqueue(t, s, second)
		if got.ID == stored.ID {
			t.Error("cancelled job blocked a fresh enqueue")
		}
	})
}

// ─────────────────────────────────────────────────────────────
// Claim
// ─────────────────────────────────────────────────────────────

func TestClaimOrdering(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	low := newJob("acme", job.TypeIngest)
	low.Priority = 10
	high := newJob("acme", job.TypeIngest)
	high.Priority = 90
	older := newJob("acme", job.TypeIngest)
	older.Priority = 90
	older.CreatedAt = older.CreatedAt.Add(-time.Minute)

	enqueue(t, s, low)
	enqueue(t, s, high)
	enqueue(t, s, older)

	worker := id.NewWorkerID()
	claimed, err := s.ClaimJobs(ctx, worker, 3, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d, want 3", len(claimed))
	}
	if claimed[0].ID != older.ID {
		t.Errorf("first claim = %s, want older high-priority job", claimed[0].ID)
	}
	if claimed[1].ID != high.ID {
		t.Errorf("second claim = %s, want newer high-priority job", claimed[1].ID)
	}
	if claimed[2].ID != low.ID {
		t.Errorf("third claim = %s, want low-priority job", claimed[2].ID)
	}

	for _, c := range claimed {
		if c.Status != job.StatusProcessing {
			t.Errorf("claimed job %s status = %s, want processing", c.ID, c.Status)
		}
		if c.Attempt != 1 {
			t.Errorf("claimed job %s attempt = %d, want 1", c.ID, c.Attempt)
		}
		if c.LeaseOwner != worker {
			t.Errorf("claimed job %s lease owner = %s", c.ID, c.LeaseOwner)
		}
	}
}

func TestClaimRespectsNotBefore(t *testing.T) {
	t.Parallel()

	s := memory.New()
	j := newJob("acme", job.TypeIngest)
	j.NotBefore = time.Now().Add(time.Hour)
	enqueue(t, s, j)

	claimed, err := s.ClaimJobs(context.Background(), id.NewWorkerID(), 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d deferred jobs, want 0", len(claimed))
	}
}

func TestClaimRaceExactlyOneWinner(t *testing.T) {
	t.Parallel()

	s := memory.New()
	stored := enqueue(t, s, newJob("acme", job.TypeIngest))

	const claimers = 16
	var wg sync.WaitGroup
	winners := make(chan id.WorkerID, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := id.NewWorkerID()
			claimed, err := s.ClaimJobs(context.Background(), worker, 1, time.Minute)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if len(claimed) == 1 {
				winners <- worker
			}
		}()
	}
	wg.Wait()
	close(winners)

	var count int
	var winner id.WorkerID
	for w := range winners {
		count++
		winner = w
	}
	if count != 1 {
		t.Fatalf("%d claimers won, want exactly 1", count)
	}

	got, err := s.GetJob(context.Background(), "acme", stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LeaseOwner != winner {
		t.Errorf("lease owner = %s, want winner %s", got.LeaseOwner, winner)
	}
	if got.Attempt != 1 {
		t.Errorf("attempt = %d, want 1 after a single successful claim", got.Attempt)
	}
}

// ─────────────────────────────────────────────────────────────
// Lease-guarded writes
// ─────────────────────────────────────────────────────────────

func TestCompleteRequiresLease(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	stored := enqueue(t, s, newJob("acme", job.TypeIngest))
	worker := id.NewWorkerID()
	claimOne(t, s, worker)

	// A different worker's write is rejected.
	if err := s.CompleteJob(ctx, stored.ID, id.NewWorkerID(), "out"); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Errorf("foreign complete error = %v, want ErrLeaseLost", err)
	}

	if err := s.CompleteJob(ctx, stored.ID, worker, "out:42"); err != nil {
		t.Fatalf("owner complete: %v", err)
	}

	got, _ := s.GetJob(ctx, "acme", stored.ID)
	if got.Status != job.StatusCompleted || got.OutputRef != "out:42" {
		t.Errorf("job = %s/%s, want completed/out:42", got.Status, got.OutputRef)
	}
	if !got.LeaseOwner.IsNil() {
		t.Errorf("lease owner = %s, want cleared", got.LeaseOwner)
	}

	// A second terminal write is rejected: the job is no longer leased.
	if err := s.CompleteJob(ctx, stored.ID, worker, "out:43"); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Errorf("double complete error = %v, want ErrLeaseLost", err)
	}
}

func TestExtendLease(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	stored := enqueue(t, s, newJob("acme", job.TypeIngest))
	worker := id.NewWorkerID()
	before := claimOne(t, s, worker)

	if err := s.ExtendLease(ctx, stored.ID, worker, 10*time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	got, _ := s.GetJob(ctx, "acme", stored.ID)
	if !got.LeaseExpiresAt.After(*before.LeaseExpiresAt) {
		t.Error("lease expiry did not move forward")
	}

	if err := s.ExtendLease(ctx, stored.ID, id.NewWorkerID(), time.Minute); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Errorf("foreign extend error = %v, want ErrLeaseLost", err)
	}
}

// ─────────────────────────────────────────────────────────────
// Failure routing
// ─────────────────────────────────────────────────────────────

func TestFailRequeueClaimAgain(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	stored := enqueue(t, s, newJob("acme", job.TypeIngest))
	worker := id.NewWorkerID()
	claimOne(t, s, worker)

	if err := s.FailJob(ctx, stored.ID, worker, "upstream 503", job.KindRetryable); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := s.GetJob(ctx, "acme", stored.ID)
	if got.Status != job.StatusFailed || got.Error != "upstream 503" {
		t.Fatalf("job = %s/%q, want failed/upstream 503", got.Status, got.Error)
	}

	if err := s.RequeueJob(ctx, stored.ID, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	second := claimOne(t, s, worker)
	if second.ID != stored.ID {
		t.Fatalf("reclaimed wrong job %s", second.ID)
	}
	if second.Attempt != 2 {
		t.Errorf("attempt = %d, want 2 on second claim", second.Attempt)
	}
}

func TestClaimPreservesStartedAt(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	stored := enqueue(t, s, newJob("acme", job.TypeIngest))
	worker := id.NewWorkerID()

	first := claimOne(t, s, worker)
	if first.StartedAt == nil {
		t.Fatal("first claim did not set started_at")
	}
	firstStart := *first.StartedAt

	// A retry keeps the original start timestamp.
	if err := s.FailJob(ctx, stored.ID, worker, "upstream 503", job.KindRetryable); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := s.RequeueJob(ctx, stored.ID, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	second := claimOne(t, s, worker)
	if second.StartedAt == nil || !second.StartedAt.Equal(firstStart) {
		t.Errorf("started_at after retry = %v, want first claim's %v", second.StartedAt, firstStart)
	}

	// So does a reclaim of the expired lease.
	if _, err := s.SweepExpiredLeases(ctx, time.Now().Add(2*time.Minute), 100); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	third := claimOne(t, s, worker)
	if third.StartedAt == nil || !third.StartedAt.Equal(firstStart) {
		t.Errorf("started_at after reclaim = %v, want first claim's %v", third.StartedAt, firstStart)
	}
}

func TestDeadLetterGuard(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	stored := enqueue(t, s, newJob("acme", job.TypeIngest))

	// Queued jobs cannot be dead-lettered directly.
	if err := s.DeadLetterJob(ctx, stored.ID); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Errorf("dead letter queued job error = %v, want ErrInvalidState", err)
	}

	worker := id.NewWorkerID()
	claimOne(t, s, worker)
	if err := s.FailJob(ctx, stored.ID, worker, "schema mismatch", job.KindPermanent); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := s.DeadLetterJob(ctx, stored.ID); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	got, _ := s.GetJob(ctx, "acme", stored.ID)
	if got.Status != job.StatusDeadLetter {
		t.Errorf("status = %s, want dead_letter", got.Status)
	}
}

// ─────────────────────────────────────────────────────────────
// Sweep
// ─────────────────────────────────────────────────────────────

func TestSweepExpiredLeases(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	worker := id.NewWorkerID()

	fresh := enqueue(t, s, newJob("acme", job.TypeIngest))

	final := newJob("acme", job.TypeIngest)
	final.MaxAttempts = 1
	finalStored := enqueue(t, s, final)

	claimed, err := s.ClaimJobs(ctx, worker, 2, time.Minute)
	if err != nil || len(claimed) != 2 {
		t.Fatalf("claim: %v (%d claimed)", err, len(claimed))
	}

	// Sweep at a point after both leases have expired.
	result, err := s.SweepExpiredLeases(ctx, time.Now().Add(2*time.Minute), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(result.Requeued) != 1 {
		t.Fatalf("requeued %d, want 1", len(result.Requeued))
	}
	if len(result.DeadLettered) != 1 {
		t.Fatalf("dead-lettered %d, want 1", len(result.DeadLettered))
	}
	if result.Requeued[0].ID != fresh.ID {
		t.Errorf("requeued job = %s, want %s", result.Requeued[0].ID, fresh.ID)
	}
	if result.DeadLettered[0].ID != finalStored.ID {
		t.Errorf("dead-lettered job = %s, want %s", result.DeadLettered[0].ID, finalStored.ID)
	}

	requeued, _ := s.GetJob(ctx, "acme", fresh.ID)
	if requeued.Status != job.StatusQueued {
		t.Errorf("requeued status = %s, want queued", requeued.Status)
	}
	if requeued.Attempt != 1 {
		t.Errorf("requeued attempt = %d, want 1 (sweep does not increment)", requeued.Attempt)
	}
	if requeued.ErrorKind != job.KindAbandoned {
		t.Errorf("requeued error kind = %s, want abandoned", requeued.ErrorKind)
	}

	// The late worker's terminal write must now miss its guard.
	if err := s.CompleteJob(ctx, fresh.ID, worker, "stale"); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Errorf("stale complete error = %v, want ErrLeaseLost", err)
	}

	// A second sweep finds nothing.
	again, err := s.SweepExpiredLeases(ctx, time.Now().Add(2*time.Minute), 100)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(again.Requeued)+len(again.DeadLettered) != 0 {
		t.Error("second sweep reprocessed jobs")
	}
}

// ─────────────────────────────────────────────────────────────
// Operator actions
// ─────────────────────────────────────────────────────────────

func TestCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("queued job", func(t *testing.T) {
		t.Parallel()

		s := memory.New()
		stored := enqueue(t, s, newJob("acme", job.TypeIngest))
		if err := s.CancelJob(ctx, "acme", stored.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		got, _ := s.GetJob(ctx, "acme", stored.ID)
		if got.Status != job.StatusCancelled {
			t.Errorf("status = %s, want cancelled", got.Status)
		}
		// Cancel is not retryable into another state.
		if err := s.CancelJob(ctx, "acme", stored.ID); !errors.Is(err, conveyor.ErrInvalidState) {
			t.Errorf("double cancel error = %v, want ErrInvalidState", err)
		}
	})

	t.Run("processing job discards the worker result", func(t *testing.T) {
		t.Parallel()

		s := memory.New()
		stored := enqueue(t, s, newJob("acme", job.TypeBatch))
		worker := id.NewWorkerID()
		if _, err := s.ClaimJobs(ctx, worker, 1, time.Minute); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := s.CancelJob(ctx, "acme", stored.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if err := s.CompleteJob(ctx, stored.ID, worker, "late"); !errors.Is(err, conveyor.ErrLeaseLost) {
			t.Errorf("late complete error = %v, want ErrLeaseLost", err)
		}
		got, _ := s.GetJob(ctx, "acme", stored.ID)
		if got.Status != job.StatusCancelled {
			t.Errorf("status = %s, want cancelled to stick", got.Status)
		}
	})

	t.Run("wrong tenant", func(t *testing.T) {
		t.Parallel()

		s := memory.New()
		stored := enqueue(t, s, newJob("acme", job.TypeIngest))
		if err := s.CancelJob(ctx, "globex", stored.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
			t.Errorf("cross-tenant cancel error = %v, want ErrJobNotFound", err)
		}
	})
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob("acme", job.TypeIngest)
	j.MaxAttempts = 1
	stored := enqueue(t, s, j)
	worker := id.NewWorkerID()
	claimOne(t, s, worker)
	if err := s.FailJob(ctx, stored.ID, worker, "boom", job.KindRetryable); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := s.DeadLetterJob(ctx, stored.ID); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	if err := s.ResetJob(ctx, "acme", stored.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ := s.GetJob(ctx, "acme", stored.ID)
	if got.Status != job.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
	if got.Attempt != 0 {
		t.Errorf("attempt = %d, want 0 after reset", got.Attempt)
	}
	if got.Error != "" {
		t.Errorf("error = %q, want cleared", got.Error)
	}

	// A queued job is not resettable.
	if err := s.ResetJob(ctx, "acme", stored.ID); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Errorf("reset queued job error = %v, want ErrInvalidState", err)
	}

	// A cancelled job is.
	if err := s.CancelJob(ctx, "acme", stored.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.ResetJob(ctx, "acme", stored.ID); err != nil {
		t.Errorf("reset cancelled job: %v", err)
	}
}

// ─────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────

func TestListAndCount(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		enqueue(t, s, newJob("acme", job.TypeIngest))
	}
	enqueue(t, s, newJob("acme", job.TypeExport))
	enqueue(t, s, newJob("globex", job.TypeIngest))

	worker := id.NewWorkerID()
	claimOne(t, s, worker)

	all, err := s.ListJobs(ctx, "acme", job.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("listed %d acme jobs, want 4", len(all))
	}

	ingests, _ := s.ListJobs(ctx, "acme", job.ListOpts{Type: job.TypeIngest})
	if len(ingests) != 3 {
		t.Errorf("listed %d ingest jobs, want 3", len(ingests))
	}

	queued, _ := s.ListJobs(ctx, "acme", job.ListOpts{Status: job.StatusQueued})
	if len(queued) != 3 {
		t.Errorf("listed %d queued jobs, want 3", len(queued))
	}

	paged, _ := s.ListJobs(ctx, "acme", job.ListOpts{Limit: 2, Offset: 3})
	if len(paged) != 1 {
		t.Errorf("paged list = %d jobs, want 1", len(paged))
	}

	counts, err := s.CountJobs(ctx, "acme", job.CountOpts{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[job.StatusQueued] != 3 {
		t.Errorf("queued count = %d, want 3", counts[job.StatusQueued])
	}
	if counts[job.StatusProcessing] != 1 {
		t.Errorf("processing count = %d, want 1", counts[job.StatusProcessing])
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()

	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.EnqueueJob(context.Background(), newJob("acme", job.TypeIngest)); !errors.Is(err, conveyor.ErrStoreClosed) {
		t.Errorf("enqueue after close error = %v, want ErrStoreClosed", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, conveyor.ErrStoreClosed) {
		t.Errorf("ping after close error = %v, want ErrStoreClosed", err)
	}
}
