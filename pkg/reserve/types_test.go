package reserve

import (
	"errors"
	"testing"
	"time"
)

func TestParseMealType(test *testing.T) {
	test.Parallel()
	meal, err := ParseMealType(" Lunch ")
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if meal != MealLunch {
		test.Fatalf("expected lunch, got %s", meal)
	}
	if _, err := ParseMealType("breakfast"); !errors.Is(err, ErrInvalidMealType) {
		test.Fatalf("expected ErrInvalidMealType, got %v", err)
	}
}

func TestParseReservationStatus(test *testing.T) {
	test.Parallel()
	status, err := ParseReservationStatus("READY_TO_PICKUP")
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if status != ReservationReadyToPickup {
		test.Fatalf("expected ready_to_pickup, got %s", status)
	}
	if _, err := ParseReservationStatus("eaten"); !errors.Is(err, ErrInvalidReservationStatus) {
		test.Fatalf("expected ErrInvalidReservationStatus, got %v", err)
	}
}

func TestCanTransition(test *testing.T) {
	test.Parallel()
	allowed := []struct{ from, to ReservationStatus }{
		{ReservationPendingPayment, ReservationWaiting},
		{ReservationPendingPayment, ReservationCancelled},
		{ReservationWaiting, ReservationPreparing},
		{ReservationPreparing, ReservationReadyToPickup},
		{ReservationReadyToPickup, ReservationPickedUp},
		{ReservationReadyToPickup, ReservationNotPickedUp},
		{ReservationCancelled, ReservationWaiting},
	}
	for _, move := range allowed {
		if !CanTransition(move.from, move.to) {
			test.Fatalf("expected %s -> %s to be legal", move.from, move.to)
		}
	}
	denied := []struct{ from, to ReservationStatus }{
		{ReservationPendingPayment, ReservationPickedUp},
		{ReservationWaiting, ReservationCancelled},
		{ReservationPickedUp, ReservationWaiting},
		{ReservationNotPickedUp, ReservationReadyToPickup},
		{ReservationCancelled, ReservationPendingPayment},
	}
	for _, move := range denied {
		if CanTransition(move.from, move.to) {
			test.Fatalf("expected %s -> %s to be rejected", move.from, move.to)
		}
	}
}

func TestGatewayStatusSucceeded(test *testing.T) {
	test.Parallel()
	if !GatewayStatusPaid.Succeeded() || !GatewayStatusVerified.Succeeded() {
		test.Fatalf("expected paid and verified to count as collected")
	}
	if GatewayStatusInBank.Succeeded() || GatewayStatusFailed.Succeeded() {
		test.Fatalf("expected in_bank and failed to not count as collected")
	}
}

func TestPolicyDefaults(test *testing.T) {
	test.Parallel()
	policy := DefaultPolicy()
	if policy.VoucherDiscount != 10000 {
		test.Fatalf("unexpected voucher discount %d", policy.VoucherDiscount)
	}
	if policy.TrustPenalty != 10 {
		test.Fatalf("unexpected trust penalty %d", policy.TrustPenalty)
	}
	if policy.MaxReservationNumber != 9999 {
		test.Fatalf("unexpected sequence cap %d", policy.MaxReservationNumber)
	}
	if policy.PaymentExpiry != 10*time.Minute {
		test.Fatalf("unexpected payment expiry %s", policy.PaymentExpiry)
	}
	if policy.ReconcileWindow != 30*time.Minute {
		test.Fatalf("unexpected reconcile window %s", policy.ReconcileWindow)
	}
	if policy.RecheckInterval != 5*time.Minute {
		test.Fatalf("unexpected recheck interval %s", policy.RecheckInterval)
	}
}

func TestPolicyValidateRejectsNonsense(test *testing.T) {
	test.Parallel()
	policy := Policy{VoucherDiscount: -1}
	if err := policy.Validate(); !errors.Is(err, ErrInvalidPolicy) {
		test.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	policy = Policy{PaymentExpiry: -time.Minute}
	if err := policy.Validate(); !errors.Is(err, ErrInvalidPolicy) {
		test.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}
