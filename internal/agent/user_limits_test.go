package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserToolLimiter_BackgroundCap(t *testing.T) {
	limiter := NewUserToolLimiter()
	ctx := context.Background()

	releases := make([]func(), 0, defaultBackgroundToolCap)
	for i := 0; i < defaultBackgroundToolCap; i++ {
		release, err := limiter.Acquire(ctx, "user-1", false)
		if err != nil {
			t.Fatalf("Acquire(%d) error = %v", i, err)
		}
		releases = append(releases, release)
	}

	// The next acquire queues; it must proceed once a slot frees up.
	acquired := make(chan error, 1)
	go func() {
		release, err := limiter.Acquire(ctx, "user-1", false)
		if err == nil {
			release()
		}
		acquired <- err
	}()

	select {
	case err := <-acquired:
		t.Fatalf("acquire beyond cap completed immediately: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	releases[0]()
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("queued acquire error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued acquire did not proceed after release")
	}

	for _, release := range releases[1:] {
		release()
	}
}

func TestUserToolLimiter_QueueOverflowRejects(t *testing.T) {
	limiter := NewUserToolLimiter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Saturate the confirmation class (cap 1)...
	release, err := limiter.Acquire(ctx, "user-1", true)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	// ...and fill its bounded queue with waiters.
	started := make(chan struct{}, defaultToolQueueDepth)
	for i := 0; i < defaultToolQueueDepth; i++ {
		go func() {
			started <- struct{}{}
			if rel, err := limiter.Acquire(ctx, "user-1", true); err == nil {
				rel()
			}
		}()
	}
	for i := 0; i < defaultToolQueueDepth; i++ {
		<-started
	}
	// Give the waiters time to enqueue before probing overflow.
	deadline := time.Now().Add(time.Second)
	for {
		limiter.mu.Lock()
		waiting := limiter.users["user-1"].confirm.waiting
		limiter.mu.Unlock()
		if waiting >= defaultToolQueueDepth || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err = limiter.Acquire(ctx, "user-1", true)
	if err == nil {
		t.Fatal("expected backpressure rejection")
	}
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Type != ToolErrorBackpressure {
		t.Fatalf("error = %v, want ToolErrorBackpressure", err)
	}
}

func TestUserToolLimiter_ClassesAreIndependent(t *testing.T) {
	limiter := NewUserToolLimiter()
	ctx := context.Background()

	// Saturating the confirmation class must not block background tools.
	release, err := limiter.Acquire(ctx, "user-1", true)
	if err != nil {
		t.Fatalf("Acquire(confirm) error = %v", err)
	}
	defer release()

	bgRelease, err := limiter.Acquire(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("Acquire(background) error = %v", err)
	}
	bgRelease()
}

func TestUserToolLimiter_NoUserIsNoop(t *testing.T) {
	limiter := NewUserToolLimiter()
	for i := 0; i < defaultBackgroundToolCap*3; i++ {
		release, err := limiter.Acquire(context.Background(), "", false)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		release()
	}
}

func TestUserToolLimiter_CancelledWhileQueued(t *testing.T) {
	limiter := NewUserToolLimiter()
	ctx := context.Background()

	release, err := limiter.Acquire(ctx, "user-1", true)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	waitCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := limiter.Acquire(waitCtx, "user-1", true)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("queued acquire did not observe cancellation")
	}
}
