package jobtree

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJoinLazyStartsAndWaits(t *testing.T) {
	j, _ := New(WithLazyStart(true))
	if j.IsActive() {
		t.Fatal("lazy job should start inactive")
	}

	done := make(chan error, 1)
	go func() {
		done <- j.Join(context.Background())
	}()

	// Join implicitly starts the lazy job.
	deadline := time.After(2 * time.Second)
	for !j.IsActive() {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for Join to start the job")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	j.Complete(nil)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Join returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Join to return")
	}
	if !j.IsCompleted() {
		t.Error("job should be completed")
	}
}

func TestJoinCompletedJob(t *testing.T) {
	j, _ := New()
	j.Complete(nil)
	if err := j.Join(context.Background()); err != nil {
		t.Errorf("Join on a completed job returned %v, want nil", err)
	}
}

func TestJoinDoesNotReportJobFailure(t *testing.T) {
	j, _ := New()
	j.CompleteExceptionally(errors.New("boom"))
	if err := j.Join(context.Background()); err != nil {
		t.Errorf("Join must only wait, got %v", err)
	}

	j2, _ := New()
	j2.Cancel(errors.New("gone"))
	if err := j2.Join(context.Background()); err != nil {
		t.Errorf("Join on a cancelled job returned %v, want nil", err)
	}
}

func TestJoinCallerCancelled(t *testing.T) {
	j, _ := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- j.Join(ctx)
	}()

	cancel()
	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Join to abort")
	}

	var ce *CancellationError
	if !errors.As(err, &ce) {
		t.Fatalf("Join returned %T, want *CancellationError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled, got %v", err)
	}

	// The joined job is unaffected, and the aborted caller removed its
	// listener (the single-listener state reverts to empty active).
	if !j.IsActive() {
		t.Error("the joined job must not be affected by caller cancellation")
	}
	if s, ok := j.state.load().(*empty); !ok || !s.active {
		t.Errorf("listener should have been disposed, state is %T", j.state.load())
	}
}

func TestJoinCancelledContextFastPath(t *testing.T) {
	j, _ := New()
	j.Complete(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := j.Join(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Join with a cancelled caller context returned %v, want a cancellation error", err)
	}
}

func TestAwaitValue(t *testing.T) {
	j, _ := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		j.Complete(42)
	}()
	v, err := j.Await(context.Background())
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if v != 42 {
		t.Errorf("Await returned %v, want 42", v)
	}
}

func TestAwaitFailure(t *testing.T) {
	boom := errors.New("boom")
	j, _ := New()
	j.CompleteExceptionally(boom)
	v, err := j.Await(context.Background())
	if err != boom {
		t.Errorf("Await returned error %v, want the failure cause", err)
	}
	if v != nil {
		t.Errorf("Await returned value %v, want nil", v)
	}
}

func TestAwaitCancelled(t *testing.T) {
	j, _ := New()
	j.Cancel(nil)
	_, err := j.Await(context.Background())
	var ce *CancellationError
	if !errors.As(err, &ce) {
		t.Errorf("Await on a cancelled job returned %T, want *CancellationError", err)
	}
}

func TestCancelAndJoin(t *testing.T) {
	parent, _ := New()
	child, _ := New(WithParent(parent))
	if err := parent.CancelAndJoin(context.Background()); err != nil {
		t.Fatalf("CancelAndJoin failed: %v", err)
	}
	if !parent.IsCancelled() || !child.IsCancelled() {
		t.Error("both jobs should be cancelled")
	}
}

func TestJoinNilContext(t *testing.T) {
	j, _ := New()
	j.Complete(nil)
	if err := j.Join(nil); err != nil { //nolint:staticcheck // nil handled gracefully
		t.Errorf("Join(nil) returned %v, want nil", err)
	}
}
