package logging

import (
	"errors"
	"testing"
)

func TestNewOperationErrorNilPassthrough(t *testing.T) {
	if err := NewOperationError("op", "req", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorMessageAndUnwrap(t *testing.T) {
	base := errors.New("boom")

	err := NewOperationError("estimator.generate_content", "req-1", base)
	if got := err.Error(); got != "estimator.generate_content (request_id=req-1): boom" {
		t.Fatalf("unexpected message: %s", got)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to match the wrapped error")
	}

	err = NewOperationError("capture.save", "", base)
	if got := err.Error(); got != "capture.save: boom" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestOperationOfReturnsInnermost(t *testing.T) {
	inner := NewOperationError("estimator.generate_content", "", errors.New("deadline exceeded"))
	outer := NewOperationError("usecase.verify_age", "req-1", inner)

	op, ok := OperationOf(outer)
	if !ok || op != "estimator.generate_content" {
		t.Fatalf("unexpected operation: %q (found=%t)", op, ok)
	}

	if _, ok := OperationOf(errors.New("plain")); ok {
		t.Fatal("expected no operation for a plain error")
	}
}
