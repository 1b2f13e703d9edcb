package jobtree

import (
	"errors"
	"io"
	"testing"
)

func TestCancellationErrorMatching(t *testing.T) {
	inner := errors.New("inner")
	err := &CancellationError{Message: "job was cancelled", Cause: inner}

	if !errors.Is(err, &CancellationError{}) {
		t.Error("any cancellation error should match any other")
	}
	if !errors.Is(err, inner) {
		t.Error("matching should reach the cause through the chain")
	}
	if err.Error() != "job was cancelled" {
		t.Errorf("Error() = %q", err.Error())
	}
	if (&CancellationError{}).Error() != "job was cancelled" {
		t.Error("empty message should render the default")
	}
}

func TestCompletionHandlerErrorUnwrap(t *testing.T) {
	err := &CompletionHandlerError{
		Cause:      io.EOF,
		Suppressed: []error{io.ErrUnexpectedEOF},
	}
	if !errors.Is(err, io.EOF) {
		t.Error("should match the primary cause")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("should match suppressed errors via multi-unwrap")
	}
}

func TestPanicError(t *testing.T) {
	if err := (PanicError{Value: io.EOF}); !errors.Is(err, io.EOF) {
		t.Error("error panic values should unwrap")
	}
	if err := (PanicError{Value: "text"}); err.Unwrap() != nil {
		t.Error("non-error panic values should not unwrap")
	}
}

func TestSameCause(t *testing.T) {
	base := errors.New("base")
	wrapped := &CancellationError{Message: "wrapped", Cause: base}

	for _, tc := range []struct {
		name string
		a, b error
		want bool
	}{
		{"identity", base, base, true},
		{"wrapper left", wrapped, base, true},
		{"wrapper right", base, wrapped, true},
		{"distinct", base, errors.New("other"), false},
		{"nil vs non-nil", nil, base, false},
	} {
		if got := sameCause(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: sameCause = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAsCancellation(t *testing.T) {
	ce := &CancellationError{Message: "original"}
	if got := asCancellation(ce, "ignored"); got != ce {
		t.Error("an existing cancellation error must be returned as-is")
	}

	base := errors.New("base")
	got := asCancellation(base, "wrapped it")
	if got.Cause != base || got.Message != "wrapped it" {
		t.Errorf("asCancellation produced %+v", got)
	}
}
