package reserve

import (
	"errors"
	"testing"
)

func TestWrapErrorCarriesMetadata(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("place", "reservation", "slot_full", ErrSlotFull)
	if wrapped == nil {
		test.Fatalf("expected wrapped error")
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "place" || operationError.Subject() != "reservation" || operationError.Code() != "slot_full" {
		test.Fatalf("unexpected metadata %s", operationError.Error())
	}
	if !errors.Is(wrapped, ErrSlotFull) {
		test.Fatalf("expected ErrSlotFull in chain, got %v", wrapped)
	}
}

func TestWrapErrorNilPassthrough(test *testing.T) {
	test.Parallel()
	if WrapError("place", "reservation", "slot_full", nil) != nil {
		test.Fatalf("expected nil for nil cause")
	}
}
