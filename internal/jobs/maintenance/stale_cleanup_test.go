package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"
)

func stubDeleteStale(t *testing.T, fn func(ctx context.Context, cutoff time.Time) (int64, error)) {
	t.Helper()
	previous := deleteStale
	deleteStale = fn
	t.Cleanup(func() { deleteStale = previous })
}

func TestRunStaleCleanupUsesCutoff(t *testing.T) {
	var cutoff time.Time
	stubDeleteStale(t, func(_ context.Context, c time.Time) (int64, error) {
		cutoff = c
		return 3, nil
	})

	before := time.Now()
	removed, err := RunStaleCleanup(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("RunStaleCleanup returned error: %v", err)
	}
	if removed != 3 {
		t.Fatalf("RunStaleCleanup returned %d, want 3", removed)
	}
	if want := before.Add(-time.Hour); cutoff.Before(want) || cutoff.After(time.Now().Add(-time.Hour)) {
		t.Fatalf("cutoff was %v, want about %v", cutoff, want)
	}
}

func TestStartStaleCleanupRoutineRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := make(chan struct{}, 8)
	stubDeleteStale(t, func(context.Context, time.Time) (int64, error) {
		select {
		case runs <- struct{}{}:
		default:
		}
		return 0, errors.New("database down")
	})

	done := make(chan struct{})
	go func() {
		StartStaleCleanupRoutine(ctx, 10*time.Millisecond, time.Hour)
		close(done)
	}()

	for range 2 {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatal("cleanup did not run")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("routine did not stop after cancel")
	}
}

func TestResolveStaleAfter(t *testing.T) {
	t.Setenv(envStaleAfter, "12h")
	if got := ResolveStaleAfter(); got != 12*time.Hour {
		t.Fatalf("ResolveStaleAfter returned %v, want 12h", got)
	}

	t.Setenv(envStaleAfter, "0")
	if got := ResolveStaleAfter(); got != DefaultStaleAfter {
		t.Fatalf("ResolveStaleAfter returned %v, want %v", got, DefaultStaleAfter)
	}
}
