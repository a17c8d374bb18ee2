package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/revsent/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueTestJob(t *testing.T, store *storage.Store, typ, dataPath string) string {
	t.Helper()
	id, err := Enqueue(store, typ, Payload{DataPath: dataPath}, time.Time{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, id string) storage.Job {
	t.Helper()
	j, err := store.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob %s: %v", id, err)
	}
	return j
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	id := enqueueTestJob(t, store, TypeSummarize, "reviews.json")

	var got Payload
	w := NewWorker(store, map[string]Handler{
		TypeSummarize: func(_ context.Context, p Payload) error {
			got = p
			return nil
		},
	}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if got.DataPath != "reviews.json" {
		t.Errorf("DataPath = %q, want %q", got.DataPath, "reviews.json")
	}
	if s := jobStatus(t, store, id).Status; s != storage.JobCompleted {
		t.Errorf("status = %q, want %q", s, storage.JobCompleted)
	}
}

func TestWorker_IdleWhenQueueEmpty(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, map[string]Handler{
		TypeTrain: func(context.Context, Payload) error { return nil },
	}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_OnlyClaimsHandledTypes(t *testing.T) {
	store := openTestStore(t)
	trainID := enqueueTestJob(t, store, TypeTrain, "")

	w := NewWorker(store, map[string]Handler{
		TypeSummarize: func(context.Context, Payload) error { return nil },
	}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("worker claimed a job type it has no handler for")
	}
	if s := jobStatus(t, store, trainID).Status; s != storage.JobPending {
		t.Errorf("status = %q, want %q", s, storage.JobPending)
	}
}

func TestWorker_BadPayloadFails(t *testing.T) {
	store := openTestStore(t)
	if err := store.EnqueueJob(storage.Job{ID: "j-bad", Type: TypeTrain, PayloadJSON: "{not json", MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	called := false
	w := NewWorker(store, map[string]Handler{
		TypeTrain: func(context.Context, Payload) error {
			called = true
			return nil
		},
	}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if called {
		t.Error("handler called with undecodable payload")
	}
	j := jobStatus(t, store, "j-bad")
	if j.Status != storage.JobFailed || j.LastError == "" {
		t.Errorf("job = %+v, want failed with last_error", j)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	id := enqueueTestJob(t, store, TypeTrain, "toys.json")

	var calls atomic.Int32
	w := NewWorker(store, map[string]Handler{
		TypeTrain: func(context.Context, Payload) error {
			n := calls.Add(1)
			if n <= 2 {
				return fmt.Errorf("transient error %d", n)
			}
			return nil
		},
	}, 0)

	ctx := context.Background()

	// 1st attempt fails and stays retryable.
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 1 = %v, %v", didWork, err)
	}
	j := jobStatus(t, store, id)
	if j.Status != storage.JobPending || j.Attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", j.Status, j.Attempts)
	}
	if j.LastError != "transient error 1" {
		t.Errorf("last_error = %q", j.LastError)
	}

	resetRunAfter(t, store, id)
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 2 = %v, %v", didWork, err)
	}
	if a := jobStatus(t, store, id).Attempts; a != 2 {
		t.Errorf("after 2nd fail: attempts=%d, want 2", a)
	}

	resetRunAfter(t, store, id)
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 3 = %v, %v", didWork, err)
	}
	if s := jobStatus(t, store, id).Status; s != storage.JobCompleted {
		t.Errorf("after 3rd attempt: status=%q, want completed", s)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	id := enqueueTestJob(t, store, TypeSummarize, "")

	w := NewWorker(store, map[string]Handler{
		TypeSummarize: func(context.Context, Payload) error { return fmt.Errorf("permanent error") },
	}, 0)

	ctx := context.Background()
	for i := 1; i <= storage.DefaultMaxAttempts; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < storage.DefaultMaxAttempts {
			resetRunAfter(t, store, id)
		}
	}

	if s := jobStatus(t, store, id).Status; s != storage.JobFailed {
		t.Errorf("final status = %q, want %q", s, storage.JobFailed)
	}
}

func TestWorker_ConcurrentEnqueue(t *testing.T) {
	store := openTestStore(t)

	const goroutines = 5
	const jobsPerGoroutine = 10
	const total = goroutines * jobsPerGoroutine

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				if _, err := Enqueue(store, TypeSummarize, Payload{DataPath: fmt.Sprintf("part-%d-%d.json", g, j)}, time.Time{}); err != nil {
					t.Errorf("Enqueue %d-%d: %v", g, j, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	var mu sync.Mutex
	seen := map[string]bool{}
	w := NewWorker(store, map[string]Handler{
		TypeSummarize: func(_ context.Context, p Payload) error {
			mu.Lock()
			defer mu.Unlock()
			seen[p.DataPath] = true
			return nil
		},
	}, 0)

	ctx := context.Background()
	deadline := time.After(5 * time.Second)
	processed := 0
	for processed < total {
		select {
		case <-deadline:
			t.Fatalf("timed out after processing %d/%d jobs", processed, total)
		default:
		}
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce error at job %d: %v", processed, err)
		}
		if didWork {
			processed++
		}
	}

	if len(seen) != total {
		t.Errorf("handled %d distinct payloads, want %d", len(seen), total)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, map[string]Handler{
		TypeTrain: func(context.Context, Payload) error { return nil },
	}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEnqueue_UnknownType(t *testing.T) {
	store := openTestStore(t)
	if _, err := Enqueue(store, "reindex", Payload{}, time.Time{}); err == nil {
		t.Error("expected error for unknown job type")
	}
}
