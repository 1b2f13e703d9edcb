package jobtree

import (
	"strings"
	"testing"

	"github.com/joeycumines/logiface"
)

func TestNilOption(t *testing.T) {
	// Nil options are handled gracefully.
	j, err := New(nil)
	if err != nil {
		t.Fatalf("New() with nil option failed: %v", err)
	}
	if !j.IsActive() {
		t.Error("defaults should still apply with a nil option")
	}
	if j.directCancel {
		t.Error("default should have directCancel=false")
	}
}

func TestWithName(t *testing.T) {
	j, _ := New(WithName("pipeline"))
	if !strings.Contains(j.String(), "pipeline{") {
		t.Errorf("String() = %q, want the configured name", j.String())
	}
}

// TestWithLogger verifies that the WithLogger option properly attaches a
// logger to the job.
func TestWithLogger(t *testing.T) {
	// Create a simple logger using logiface.New.
	// Events are discarded for this test.
	logger := logiface.New[logiface.Event](
		logiface.WithWriter[logiface.Event](logiface.NewWriterFunc(func(event logiface.Event) error {
			return nil
		})),
	)

	j, err := New(WithLogger(logger))
	if err != nil {
		t.Fatal("New failed:", err)
	}
	if j.logger == nil {
		t.Error("logger should be attached")
	}

	// Lifecycle transitions log through the attached logger without issue.
	j.Cancel(nil)
}

func TestWithLoggerNil(t *testing.T) {
	j, err := New(WithLogger(nil))
	if err != nil {
		t.Fatalf("New(WithLogger(nil)) failed: %v", err)
	}
	j.Complete(nil)
}

func TestWithLazyStartDisabled(t *testing.T) {
	j, _ := New(WithLazyStart(false))
	if !j.IsActive() {
		t.Error("WithLazyStart(false) should create an active job")
	}
	if j.Start() {
		t.Error("Start on an already-active job should return false")
	}
}

func TestWithParentNil(t *testing.T) {
	j, err := New(WithParent(nil))
	if err != nil {
		t.Fatalf("New(WithParent(nil)) failed: %v", err)
	}
	if len(j.Children()) != 0 {
		t.Error("no children expected")
	}
}
