package locking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	tbl := NewTable(4)
	ctx := context.Background()

	release, err := tbl.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()

	// Reacquirable after release.
	release, err = tbl.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	release()
}

func TestAcquireTimesOut(t *testing.T) {
	tbl := NewTable(4)
	ctx := context.Background()

	release, err := tbl.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	if _, err := tbl.Acquire(ctx, "k", 20*time.Millisecond); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	tbl := NewTable(4)

	release, err := tbl.Acquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tbl.Acquire(ctx, "k", time.Minute); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestSerializesSameKey(t *testing.T) {
	tbl := NewTable(8)
	ctx := context.Background()

	var counter, max, active int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := tbl.Acquire(ctx, "shared", 5*time.Second)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer release()

			mu.Lock()
			active++
			if active > max {
				max = active
			}
			counter++
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counter != 16 {
		t.Errorf("got %d iterations, want 16", counter)
	}
	if max != 1 {
		t.Errorf("lock admitted %d holders at once", max)
	}
}
