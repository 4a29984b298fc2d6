package prep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunLimiter_Defaults(t *testing.T) {
	l := NewRunLimiter(0, 0)
	if got := l.Status().MaxConcurrent; got != DefaultMaxConcurrentRuns {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentRuns)
	}
	if l.maxWait != DefaultRunWaitTime {
		t.Errorf("maxWait = %v, want %v", l.maxWait, DefaultRunWaitTime)
	}
}

func TestRunLimiter_AcquireRelease(t *testing.T) {
	l := NewRunLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}

	status := l.Status()
	if status.Active != 2 || status.Available != 0 {
		t.Errorf("Status() = %+v, want 2 active and 0 available", status)
	}

	if err := l.Acquire(ctx); !errors.Is(err, ErrTooManyRuns) {
		t.Errorf("third Acquire() error = %v, want ErrTooManyRuns", err)
	}
	if l.TryAcquire() {
		t.Error("TryAcquire() = true with no free slot")
	}

	l.Release()
	if !l.TryAcquire() {
		t.Error("TryAcquire() = false after Release")
	}
	l.Release()
	l.Release()

	if got := l.Status().Active; got != 0 {
		t.Errorf("Active = %d after releasing all, want 0", got)
	}
}

func TestRunLimiter_ContextCancelled(t *testing.T) {
	l := NewRunLimiter(1, time.Minute)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire() = false on empty limiter")
	}
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestRunLimiter_WaitForDrain(t *testing.T) {
	l := NewRunLimiter(3, time.Second)
	var wg sync.WaitGroup
	for range 3 {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(20 * time.Millisecond)
			l.Release()
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain() error = %v", err)
	}
	wg.Wait()
}
