package market

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapErrorExposesMetadata(test *testing.T) {
	test.Parallel()
	if WrapError("op", "subject", "code", nil) != nil {
		test.Fatalf("expected nil for nil error")
	}
	wrapped := WrapError("store", "listing", "lookup_failed", ErrUnknownListing)
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "store" || operationError.Subject() != "listing" || operationError.Code() != "lookup_failed" {
		test.Fatalf("unexpected metadata: %+v", operationError)
	}
	if !errors.Is(wrapped, ErrUnknownListing) {
		test.Fatalf("expected wrapped error to unwrap to ErrUnknownListing")
	}
	if wrapped.Error() != "store.listing.lookup_failed: unknown listing" {
		test.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestReasonMappingIsSymmetric(test *testing.T) {
	test.Parallel()
	reasons := []Reason{
		ReasonStatusClosed,
		ReasonBelowFloor,
		ReasonBelowCurrent,
		ReasonInsufficientBalance,
		ReasonCapacityExhausted,
		ReasonSlotElapsed,
		ReasonNotReservable,
	}
	for _, reason := range reasons {
		sentinel, ok := ErrorForReason(reason)
		if !ok {
			test.Fatalf("no sentinel for %s", reason)
		}
		mapped, ok := ReasonFromError(fmt.Errorf("store: %w", sentinel))
		if !ok || mapped != reason {
			test.Fatalf("expected %s from wrapped sentinel, got %s", reason, mapped)
		}
	}
	if _, ok := ReasonFromError(errStubTransport); ok {
		test.Fatalf("expected transport error to have no reason")
	}
	if _, ok := ErrorForReason(ReasonProviderError); ok {
		test.Fatalf("expected provider_error to have no sentinel")
	}
}
