package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := New("Backend.GetRun", "fetch run")
	if err.Error() != "Backend.GetRun: fetch run" {
		t.Fatalf("Error() = %q", err.Error())
	}

	wrapped := Wrap(ErrTimeout, "Backend.GetRun", "fetch run")
	want := "Backend.GetRun: fetch run: timeout"
	if wrapped.Error() != want {
		t.Fatalf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "Store.GetWatchedRun", "lookup")
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatal("errors.Is(wrapped, ErrNotFound) = false")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed")
	}
	if appErr.Op != "Store.GetWatchedRun" {
		t.Fatalf("Op = %q", appErr.Op)
	}
}

func TestWrapf_ChainsThroughLayers(t *testing.T) {
	inner := Wrap(ErrUnavailable, "Stream.dial", "connect")
	outer := Wrapf(inner, "Supervisor.openRunChannel", "run %s", "r1")

	if !errors.Is(outer, ErrUnavailable) {
		t.Fatal("sentinel lost through two wrap layers")
	}
	if got := outer.Error(); got == "" || got == fmt.Sprint(inner) {
		t.Fatalf("outer message not augmented: %q", got)
	}
}

func TestNewf(t *testing.T) {
	err := Newf("Poller.tick", "unexpected status %q", "paused")
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As failed")
	}
	if appErr.Message != `unexpected status "paused"` {
		t.Fatalf("Message = %q", appErr.Message)
	}
	if appErr.Unwrap() != nil {
		t.Fatal("Newf should not carry a cause")
	}
}
