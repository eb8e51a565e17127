package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHandle_ResolveOnce(t *testing.T) {
	h := newHandle()

	h.resolve(&Result{RequestID: "r1"}, nil)
	// Second resolve must be a no-op
	h.resolve(nil, errors.New("late error"))

	result, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if result.RequestID != "r1" {
		t.Errorf("Expected result r1, got %s", result.RequestID)
	}
}

func TestHandle_ResolveError(t *testing.T) {
	h := newHandle()

	h.resolve(nil, &BackendError{VoiceID: "v1", Cause: errors.New("engine died")})

	_, err := h.Wait(context.Background())
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("Expected BackendError, got %v", err)
	}
	if backendErr.VoiceID != "v1" {
		t.Errorf("Expected voice v1, got %s", backendErr.VoiceID)
	}
}

func TestHandle_WaitContextCancelled(t *testing.T) {
	h := newHandle()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}

	if h.Resolved() {
		t.Error("Handle must not be resolved by a cancelled wait")
	}
}

func TestHandle_MultipleWaiters(t *testing.T) {
	h := newHandle()

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], _ = h.Wait(context.Background())
		}(i)
	}

	h.resolve(&Result{RequestID: "shared"}, nil)
	wg.Wait()

	for i, r := range results {
		if r == nil || r.RequestID != "shared" {
			t.Errorf("Waiter %d saw wrong outcome: %v", i, r)
		}
	}
}

func TestHandle_Resolved(t *testing.T) {
	h := newHandle()

	if h.Resolved() {
		t.Error("Fresh handle must not report resolved")
	}

	h.resolve(&Result{}, nil)

	if !h.Resolved() {
		t.Error("Handle must report resolved after resolve")
	}
}
