package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mvasquez/taskgraph/internal/admission"
	"github.com/mvasquez/taskgraph/internal/executor"
	"github.com/mvasquez/taskgraph/internal/store"
	"github.com/mvasquez/taskgraph/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testHarness(t *testing.T, maxConcurrent int) (store.Store, *Dispatcher, *admission.Admitter) {
	t.Helper()
	logger := testLogger()

	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := executor.NewRegistry(executor.SleepExecutor{})
	d := New(st, reg, maxConcurrent, logger)
	adm := admission.New(st, d, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		d.Stop()
		<-done
	})

	return st, d, adm
}

func waitForStatus(t *testing.T, st store.Store, id string, want model.Status, timeout time.Duration) *model.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := st.GetTask(context.Background(), id)
		if err != nil {
			t.Fatalf("GetTask(%s): %v", id, err)
		}
		if task != nil && task.Status == want {
			return task
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %s within %s", id, want, timeout)
	return nil
}

// A linear chain A -> B -> C must complete in dependency order.
func TestLinearChain(t *testing.T) {
	st, _, adm := testHarness(t, 3)
	ctx := context.Background()

	if _, err := adm.Admit(ctx, "A", "noop", 30, nil); err != nil {
		t.Fatalf("Admit(A): %v", err)
	}
	if _, err := adm.Admit(ctx, "B", "noop", 30, []string{"A"}); err != nil {
		t.Fatalf("Admit(B): %v", err)
	}
	if _, err := adm.Admit(ctx, "C", "noop", 30, []string{"B"}); err != nil {
		t.Fatalf("Admit(C): %v", err)
	}

	waitForStatus(t, st, "A", model.StatusCompleted, 2*time.Second)
	waitForStatus(t, st, "B", model.StatusCompleted, 2*time.Second)
	c := waitForStatus(t, st, "C", model.StatusCompleted, 2*time.Second)
	_ = c

	a, _ := st.GetTask(ctx, "A")
	b, _ := st.GetTask(ctx, "B")

	if a.FinishedAt.After(*b.StartedAt) {
		t.Errorf("finished_at(A) = %v should be <= started_at(B) = %v", a.FinishedAt, b.StartedAt)
	}
}

// A fan-out of dependents must never exceed the concurrency cap.
func TestFanOutUnderCap(t *testing.T) {
	const maxConcurrent = 2
	st, _, adm := testHarness(t, maxConcurrent)
	ctx := context.Background()

	if _, err := adm.Admit(ctx, "R", "noop", 10, nil); err != nil {
		t.Fatalf("Admit(R): %v", err)
	}
	leaves := []string{"L1", "L2", "L3", "L4", "L5"}
	for _, id := range leaves {
		if _, err := adm.Admit(ctx, id, "noop", 60, []string{"R"}); err != nil {
			t.Fatalf("Admit(%s): %v", id, err)
		}
	}

	waitForStatus(t, st, "R", model.StatusCompleted, 2*time.Second)

	// Sample RUNNING count for a short window while leaves are in flight.
	maxObserved := 0
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		running := 0
		for _, id := range leaves {
			task, _ := st.GetTask(ctx, id)
			if task != nil && task.Status == model.StatusRunning {
				running++
			}
		}
		if running > maxObserved {
			maxObserved = running
		}
		time.Sleep(2 * time.Millisecond)
	}
	if maxObserved > maxConcurrent {
		t.Errorf("observed %d RUNNING leaves, want <= %d", maxObserved, maxConcurrent)
	}

	for _, id := range leaves {
		waitForStatus(t, st, id, model.StatusCompleted, 2*time.Second)
	}
}

// A FAILED task permanently blocks its dependents; they stay QUEUED.
func TestFailedBlocksDependents(t *testing.T) {
	logger := testLogger()
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	reg := executor.NewRegistry(executor.SleepExecutor{})
	reg.Register("boom", executor.FailingExecutor{})
	d := New(st, reg, 2, logger)
	adm := admission.New(st, d, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Start(ctx); close(done) }()
	t.Cleanup(func() { d.Stop(); <-done; cancel() })

	if _, err := adm.Admit(ctx, "A", "boom", 10, nil); err != nil {
		t.Fatalf("Admit(A): %v", err)
	}
	if _, err := adm.Admit(ctx, "B", "noop", 10, []string{"A"}); err != nil {
		t.Fatalf("Admit(B): %v", err)
	}

	waitForStatus(t, st, "A", model.StatusFailed, 2*time.Second)

	// B must remain QUEUED indefinitely; give the dispatcher a few extra
	// sweeps to prove it never becomes ready.
	time.Sleep(100 * time.Millisecond)
	b, err := st.GetTask(ctx, "B")
	if err != nil {
		t.Fatalf("GetTask(B): %v", err)
	}
	if b.Status != model.StatusQueued {
		t.Errorf("B.Status = %q, want QUEUED", b.Status)
	}
}

func TestRecover_ResetsRunningBeforeDispatch(t *testing.T) {
	logger := testLogger()
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := st.CreateTask(context.Background(), &model.Task{
		ID: "orphan", DurationMS: 10, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if res, err := st.Claim(context.Background(), "orphan"); err != nil || res != store.Claimed {
		t.Fatalf("Claim: %v, %v", res, err)
	}

	n, err := Recover(context.Background(), st, logger)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("Recover reset count = %d, want 1", n)
	}

	task, err := st.GetTask(context.Background(), "orphan")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != model.StatusQueued {
		t.Errorf("orphan.Status = %q, want QUEUED", task.Status)
	}
}

// A task stranded in RUNNING by a crash is reset by Recovery, re-claimed
// on the next dispatch sweep, and runs to COMPLETED.
func TestCrashRecovery_ReDispatch(t *testing.T) {
	logger := testLogger()
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Simulate the pre-crash lifetime: the task was claimed but the
	// process died before its worker committed a terminal state.
	if err := st.CreateTask(context.Background(), &model.Task{
		ID: "t", DurationMS: 10, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if res, err := st.Claim(context.Background(), "t"); err != nil || res != store.Claimed {
		t.Fatalf("Claim: %v, %v", res, err)
	}

	// Restart: Recovery runs before the Dispatcher starts.
	if _, err := Recover(context.Background(), st, logger); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	task, err := st.GetTask(context.Background(), "t")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != model.StatusQueued {
		t.Fatalf("t.Status after recovery = %q, want QUEUED", task.Status)
	}

	reg := executor.NewRegistry(executor.SleepExecutor{})
	d := New(st, reg, 2, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan struct{})
	go func() { d.Start(ctx); close(done) }()
	t.Cleanup(func() { d.Stop(); <-done })

	// The full sweep a restart performs after recovery.
	d.Wake()

	waitForStatus(t, st, "t", model.StatusCompleted, 2*time.Second)
}

// Exactly one claim wins per task, even when many Claim calls race on the
// same id.
func TestClaimProtocol_AtMostOneWinner(t *testing.T) {
	logger := testLogger()
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := st.CreateTask(context.Background(), &model.Task{
		ID: "a", DurationMS: 1, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	results := make(chan store.ClaimResult, 10)
	const attempts = 10
	for i := 0; i < attempts; i++ {
		go func() {
			res, err := st.Claim(context.Background(), "a")
			if err != nil {
				t.Error(err)
				return
			}
			results <- res
		}()
	}

	claimed := 0
	for i := 0; i < attempts; i++ {
		if <-results == store.Claimed {
			claimed++
		}
	}
	if claimed != 1 {
		t.Errorf("claimed = %d, want exactly 1", claimed)
	}
}
