package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobRunnerDispatchesToHandler(t *testing.T) {
	st := NewInMemoryStore()
	runner := NewJobRunner(st, time.Second)

	var calls int32
	var gotPayload atomic.Value
	runner.RegisterHandler("test.kind", func(_ context.Context, payload string) error {
		atomic.AddInt32(&calls, 1)
		gotPayload.Store(payload)
		return nil
	})

	id, err := st.EnqueueJob("test.kind", time.Now().Add(-time.Second), `{"n":1}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	runner.Poll(context.Background())

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 handler call, got %d", got)
	}
	if p, _ := gotPayload.Load().(string); p != `{"n":1}` {
		t.Errorf("handler got payload %q", p)
	}
	j, _ := st.GetJob(id)
	if j.Status != JobStatusDone {
		t.Errorf("expected done job, got %s", j.Status)
	}

	// Done jobs are never redelivered.
	runner.Poll(context.Background())
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected no redelivery, got %d calls", got)
	}
}

func TestJobRunnerRequeuesWithBackoffOnError(t *testing.T) {
	st := NewInMemoryStore()
	runner := NewJobRunner(st, time.Second)
	runner.RegisterHandler("test.kind", func(_ context.Context, _ string) error {
		return errors.New("boom")
	})

	id, err := st.EnqueueJob("test.kind", time.Now().Add(-time.Second), "{}", "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	runner.Poll(context.Background())

	j, _ := st.GetJob(id)
	if j.Status != JobStatusQueued {
		t.Fatalf("expected requeue after handler error, got %s", j.Status)
	}
	if j.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", j.Attempt)
	}
	if !j.RunAt.After(time.Now()) {
		t.Error("expected backoff to push run_at into the future")
	}
	if j.LastError != "boom" {
		t.Errorf("expected last error recorded, got %q", j.LastError)
	}
}

func TestJobRunnerInvokesFailureHandlerOnPermanentFailure(t *testing.T) {
	st := NewInMemoryStore()
	runner := NewJobRunner(st, time.Second)
	runner.RegisterHandler("test.kind", func(_ context.Context, _ string) error {
		return errors.New("boom")
	})

	var failedPayload atomic.Value
	runner.RegisterFailureHandler("test.kind", func(_ context.Context, payload string, lastErr string) {
		failedPayload.Store(payload + "|" + lastErr)
	})

	id, err := st.EnqueueJob("test.kind", time.Now().Add(-time.Second), `{"n":2}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	// Burn all but the last redelivery attempt, then let the runner's own
	// error path take the final one.
	for i := 0; i < DefaultJobMaxAttempts-1; i++ {
		if permanent, err := st.FailJob(id, "boom", time.Now().Add(-time.Second)); err != nil || permanent {
			t.Fatalf("FailJob = %v, %v; want false, nil", permanent, err)
		}
	}
	runner.Poll(context.Background())

	j, _ := st.GetJob(id)
	if j.Status != JobStatusFailed {
		t.Fatalf("expected permanently failed job, got %s", j.Status)
	}
	got, _ := failedPayload.Load().(string)
	if got == "" {
		t.Fatal("expected the failure handler to be invoked")
	}
}

func TestJobRunnerIgnoresUnknownKinds(t *testing.T) {
	st := NewInMemoryStore()
	runner := NewJobRunner(st, time.Second)

	id, err := st.EnqueueJob("unknown.kind", time.Now().Add(-time.Second), "{}", "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	runner.Poll(context.Background())

	j, _ := st.GetJob(id)
	if j.Status == JobStatusDone {
		t.Error("a job without a handler must not be marked done")
	}
}

func TestJobRunnerRecoverStaleJobs(t *testing.T) {
	st := NewInMemoryStore()
	runner := NewJobRunner(st, time.Second)

	id, err := st.EnqueueJob("test.kind", time.Now().Add(-time.Minute), "{}", "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if _, err := st.ClaimDueJobs(time.Now(), 10); err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}

	// Backdate the lock past the stale threshold, as after a crash.
	j, _ := st.GetJob(id)
	stale := time.Now().Add(-time.Hour)
	j.LockedAt = &stale
	st.mu.Lock()
	st.jobs[id] = *j
	st.mu.Unlock()

	if err := runner.RecoverStaleJobs(); err != nil {
		t.Fatalf("RecoverStaleJobs failed: %v", err)
	}
	recovered, _ := st.GetJob(id)
	if recovered.Status != JobStatusQueued {
		t.Errorf("expected stale job requeued, got %s", recovered.Status)
	}
}
