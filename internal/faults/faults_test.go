package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New("dispatch", Transient, "a1", "backend unreachable", context.DeadlineExceeded)
	wrapped := fmt.Errorf("operator action: %w", base)

	if got := KindOf(wrapped); got != Transient {
		t.Fatalf("KindOf = %q, want %q", got, Transient)
	}
	if !Is(wrapped, Transient) {
		t.Fatalf("expected Is(Transient)")
	}
	if Is(wrapped, Rejected) {
		t.Fatalf("unexpected Is(Rejected)")
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("expected cause to unwrap")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Fatalf("KindOf = %q, want empty", got)
	}
	if Is(nil, Transient) {
		t.Fatalf("nil error must not match")
	}
}

func TestErrorMessage(t *testing.T) {
	err := New("neutralise", Precondition, "a7", "alert already neutralised", nil)
	msg := err.Error()
	for _, want := range []string{"neutralise", "a7", "precondition", "already neutralised"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
