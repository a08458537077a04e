package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"carousel/internal/convert"
	"carousel/internal/services"
	"carousel/internal/task"
	"carousel/internal/testsupport"
)

func hangEngineFactory(calls *int) func() (convert.Engine, error) {
	return func() (convert.Engine, error) {
		if calls != nil {
			*calls++
		}
		return &testsupport.StubEngine{
			OnConvert: func(ctx context.Context, _ int, _ convert.Request) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}, nil
	}
}

func newTestPool(t *testing.T, maxPerKind int, factory func() (convert.Engine, error)) (*Pool, chan Event) {
	t.Helper()

	events := make(chan Event, 256)
	pool := NewPool(Config{
		MaxPerKind: maxPerKind,
		Session: SessionConfig{
			Engine:    factory,
			OutputDir: filepath.Join(t.TempDir(), "out"),
			WorkDir:   filepath.Join(t.TempDir(), "work"),
		},
	}, events, nil)
	t.Cleanup(func() {
		select {
		case <-pool.Shutdown():
		case <-time.After(5 * time.Second):
			t.Error("pool shutdown timed out")
		}
	})
	return pool, events
}

func dispatchTask(t *testing.T, pool *Pool, slot *Slot, taskID string) {
	t.Helper()

	file := testsupport.SourceFile(t, t.TempDir(), taskID+".heic", 32)
	cmd := ConvertCommand{TaskID: taskID, File: file, Options: jpegOptions()}
	if err := pool.Dispatch(context.Background(), slot, cmd); err != nil {
		t.Fatalf("dispatch %s: %v", taskID, err)
	}
}

func TestPoolAcquireSpawnsLazily(t *testing.T) {
	spawns := 0
	pool, _ := newTestPool(t, 2, hangEngineFactory(&spawns))

	s1, err := pool.Acquire(task.KindSingle)
	if err != nil || s1 == nil {
		t.Fatalf("acquire = %v, %v", s1, err)
	}
	if s1.ID != "single-1" {
		t.Errorf("slot id = %q, want single-1", s1.ID)
	}
	if spawns != 1 {
		t.Fatalf("spawns = %d, want 1", spawns)
	}

	// The idle slot is reused before a second one spawns.
	again, err := pool.Acquire(task.KindSingle)
	if err != nil || again != s1 {
		t.Fatalf("second acquire = %v, %v, want same slot", again, err)
	}
	if spawns != 1 {
		t.Fatalf("spawns = %d after reuse, want 1", spawns)
	}

	dispatchTask(t, pool, s1, "t1")
	s2, err := pool.Acquire(task.KindSingle)
	if err != nil || s2 == nil || s2 == s1 {
		t.Fatalf("third acquire = %v, %v, want fresh slot", s2, err)
	}
	if s2.ID != "single-2" || spawns != 2 {
		t.Errorf("slot id = %q spawns = %d", s2.ID, spawns)
	}

	dispatchTask(t, pool, s2, "t2")
	s3, err := pool.Acquire(task.KindSingle)
	if err != nil || s3 != nil {
		t.Fatalf("acquire at capacity = %v, %v, want nil/nil", s3, err)
	}

	// Kinds have independent caps.
	b1, err := pool.Acquire(task.KindBatch)
	if err != nil || b1 == nil {
		t.Fatalf("batch acquire = %v, %v", b1, err)
	}
	if b1.ID != "batch-1" {
		t.Errorf("batch slot id = %q, want batch-1", b1.ID)
	}
}

func TestPoolReleaseRecyclesSlot(t *testing.T) {
	spawns := 0
	pool, events := newTestPool(t, 1, hangEngineFactory(&spawns))

	s1, err := pool.Acquire(task.KindSingle)
	if err != nil || s1 == nil {
		t.Fatalf("acquire = %v, %v", s1, err)
	}
	dispatchTask(t, pool, s1, "t1")

	if slot, err := pool.Acquire(task.KindSingle); err != nil || slot != nil {
		t.Fatalf("acquire while busy = %v, %v, want nil/nil", slot, err)
	}

	if !pool.CancelTask("t1") {
		t.Fatal("CancelTask returned false for running task")
	}
	collected := collectUntilTerminal(t, events)
	if _, ok := collected[len(collected)-1].(CancelledEvent); !ok {
		t.Fatalf("terminal event = %T, want CancelledEvent", collected[len(collected)-1])
	}

	released := pool.Release("t1")
	if released != s1 {
		t.Fatal("release did not return the busy slot")
	}
	if released.Busy || released.AssignedTaskID != "" || released.TasksProcessed != 1 {
		t.Errorf("released slot = %+v", released)
	}

	again, err := pool.Acquire(task.KindSingle)
	if err != nil || again != s1 {
		t.Fatalf("acquire after release = %v, %v, want recycled slot", again, err)
	}
	if spawns != 1 {
		t.Errorf("spawns = %d, want 1", spawns)
	}
}

func TestPoolCancelAndReleaseUnknownTask(t *testing.T) {
	pool, _ := newTestPool(t, 1, hangEngineFactory(nil))

	if pool.CancelTask("ghost") {
		t.Error("CancelTask succeeded for unknown task")
	}
	if slot := pool.Release("ghost"); slot != nil {
		t.Error("Release returned a slot for unknown task")
	}
}

func TestPoolSpawnFailureMarksDegraded(t *testing.T) {
	failing := true
	factory := func() (convert.Engine, error) {
		if failing {
			return nil, errors.New("exec: \"heifcvt\": executable file not found in $PATH")
		}
		return &testsupport.StubEngine{}, nil
	}
	pool, _ := newTestPool(t, 4, factory)

	for i := 1; i <= 3; i++ {
		slot, err := pool.Acquire(task.KindSingle)
		if slot != nil || err == nil {
			t.Fatalf("acquire %d = %v, %v, want nil/error", i, slot, err)
		}
		if !errors.Is(err, services.ErrWorkerTransport) {
			t.Fatalf("acquire %d error = %v, want worker transport", i, err)
		}
		wantDegraded := i >= 3
		if pool.Degraded(task.KindSingle) != wantDegraded {
			t.Errorf("degraded after %d failures = %v, want %v", i, pool.Degraded(task.KindSingle), wantDegraded)
		}
	}
	stats := pool.Stats()
	if stats.Single.SpawnFailures != 3 || !stats.Single.Degraded || stats.Single.Live != 0 {
		t.Errorf("stats = %+v", stats.Single)
	}
	if pool.Degraded(task.KindBatch) {
		t.Error("batch kind degraded by single-kind failures")
	}

	// A successful spawn clears the degraded flag.
	failing = false
	slot, err := pool.Acquire(task.KindSingle)
	if err != nil || slot == nil {
		t.Fatalf("acquire after recovery = %v, %v", slot, err)
	}
	if pool.Degraded(task.KindSingle) || pool.Stats().Single.SpawnFailures != 0 {
		t.Error("degraded flag not cleared by successful spawn")
	}
}

func TestPoolReplace(t *testing.T) {
	spawns := 0
	pool, _ := newTestPool(t, 2, hangEngineFactory(&spawns))

	s1, err := pool.Acquire(task.KindSingle)
	if err != nil || s1 == nil {
		t.Fatalf("acquire = %v, %v", s1, err)
	}

	replacement, err := pool.Replace("single-1")
	if err != nil || replacement == nil {
		t.Fatalf("replace = %v, %v", replacement, err)
	}
	if replacement.ID != "single-2" || spawns != 2 {
		t.Errorf("replacement id = %q spawns = %d", replacement.ID, spawns)
	}
	if stats := pool.Stats(); stats.Single.Live != 1 {
		t.Errorf("live slots = %d, want 1", stats.Single.Live)
	}

	if _, err := pool.Replace("single-99"); !errors.Is(err, services.ErrIllegalState) {
		t.Errorf("replace unknown worker error = %v, want illegal state", err)
	}
}

func TestPoolDispatchBusySlot(t *testing.T) {
	pool, _ := newTestPool(t, 1, hangEngineFactory(nil))

	slot, err := pool.Acquire(task.KindSingle)
	if err != nil || slot == nil {
		t.Fatalf("acquire = %v, %v", slot, err)
	}
	dispatchTask(t, pool, slot, "t1")

	file := testsupport.SourceFile(t, t.TempDir(), "t2.heic", 32)
	err = pool.Dispatch(context.Background(), slot, ConvertCommand{TaskID: "t2", File: file, Options: jpegOptions()})
	if !errors.Is(err, services.ErrIllegalState) {
		t.Errorf("dispatch to busy slot = %v, want illegal state", err)
	}
}

func TestPoolShutdown(t *testing.T) {
	pool, _ := newTestPool(t, 2, hangEngineFactory(nil))

	slot, err := pool.Acquire(task.KindSingle)
	if err != nil || slot == nil {
		t.Fatalf("acquire = %v, %v", slot, err)
	}
	dispatchTask(t, pool, slot, "t1")

	select {
	case <-pool.Shutdown():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	if _, err := pool.Acquire(task.KindSingle); !errors.Is(err, services.ErrIllegalState) {
		t.Errorf("acquire after shutdown = %v, want illegal state", err)
	}

	// Shutdown is idempotent and keeps returning a closed channel.
	select {
	case <-pool.Shutdown():
	case <-time.After(time.Second):
		t.Fatal("second shutdown channel not closed")
	}
}

func TestPoolStats(t *testing.T) {
	pool, _ := newTestPool(t, 2, hangEngineFactory(nil))

	s1, err := pool.Acquire(task.KindSingle)
	if err != nil || s1 == nil {
		t.Fatalf("acquire = %v, %v", s1, err)
	}
	dispatchTask(t, pool, s1, "t1")
	if _, err := pool.Acquire(task.KindSingle); err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	stats := pool.Stats()
	if stats.Single.Capacity != 2 || stats.Single.Live != 2 || stats.Single.Busy != 1 || stats.Single.Idle != 1 {
		t.Errorf("single stats = %+v", stats.Single)
	}
	if stats.Single.Spawned != 2 {
		t.Errorf("spawned = %d, want 2", stats.Single.Spawned)
	}
	if len(stats.Slots) != 2 {
		t.Fatalf("slot rows = %d, want 2", len(stats.Slots))
	}
	if stats.Slots[0].ID != "single-1" || !stats.Slots[0].Busy || stats.Slots[0].AssignedTaskID != "t1" {
		t.Errorf("slot row = %+v", stats.Slots[0])
	}
	if stats.Slots[1].Busy {
		t.Errorf("idle slot reported busy: %+v", stats.Slots[1])
	}
}
