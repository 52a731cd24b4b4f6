package reserve

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestReconcileReversesCollectedFailedPayment(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	gateway := newStubGateway()
	reconciler := mustNewReconciler(test, store, gateway)
	reservation := store.seedReservation(test, ReservationCancelled, nil)
	payment := store.seedStalePayment(test, reservation.ID, PaymentFailed, testNow.Add(-time.Hour))

	summary, err := reconciler.Run(context.Background())
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if summary.TotalChecked != 1 || summary.ProcessedCount != 1 || summary.ReversedCount != 1 {
		test.Fatalf("unexpected summary %+v", summary)
	}
	if gateway.reversals != 1 {
		test.Fatalf("expected 1 gateway reversal, got %d", gateway.reversals)
	}
	stored := store.payments[payment.ID]
	if stored.Status != PaymentReversed {
		test.Fatalf("expected reversed, got %s", stored.Status)
	}
	if stored.FailureDetails == nil || !stored.FailureDetails.Reversed || !stored.FailureDetails.ReversalAttempted {
		test.Fatalf("expected reversal bookkeeping, got %+v", stored.FailureDetails)
	}
	if stored.FailureDetails.LastChecked == nil {
		test.Fatalf("expected last check stamp, got %+v", stored.FailureDetails)
	}
	if got := store.reservations[reservation.ID].Status; got != ReservationWaiting {
		test.Fatalf("expected revived reservation, got %s", got)
	}
}

func TestReconcileLeavesGenuinelyFailedPayment(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	gateway := newStubGateway()
	gateway.inquiry = InquiryResult{Status: GatewayStatusFailed}
	reconciler := mustNewReconciler(test, store, gateway)
	reservation := store.seedReservation(test, ReservationCancelled, nil)
	payment := store.seedStalePayment(test, reservation.ID, PaymentFailed, testNow.Add(-time.Hour))

	summary, err := reconciler.Run(context.Background())
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if summary.ProcessedCount != 1 || summary.ReversedCount != 0 {
		test.Fatalf("unexpected summary %+v", summary)
	}
	if gateway.reversals != 0 {
		test.Fatalf("expected no reversal, got %d", gateway.reversals)
	}
	stored := store.payments[payment.ID]
	if stored.Status != PaymentFailed {
		test.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.FailureDetails == nil || stored.FailureDetails.LastChecked == nil {
		test.Fatalf("expected last check stamp, got %+v", stored.FailureDetails)
	}
}

func TestReconcilePromotesSettledPendingPayment(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	gateway := newStubGateway()
	reconciler := mustNewReconciler(test, store, gateway)
	reservation := store.seedReservation(test, ReservationPendingPayment, nil)
	payment := store.seedStalePayment(test, reservation.ID, PaymentPending, testNow.Add(-10*time.Minute))

	summary, err := reconciler.Run(context.Background())
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if summary.UpdatedCount != 1 || summary.ProcessedCount != 1 {
		test.Fatalf("unexpected summary %+v", summary)
	}
	stored := store.payments[payment.ID]
	if stored.Status != PaymentPaid {
		test.Fatalf("expected paid, got %s", stored.Status)
	}
	if stored.FailureDetails == nil || stored.FailureDetails.LastChecked == nil {
		test.Fatalf("expected last check stamp, got %+v", stored.FailureDetails)
	}
	if got := store.reservations[reservation.ID].Status; got != ReservationWaiting {
		test.Fatalf("expected waiting, got %s", got)
	}
}

func TestReconcileLeavesPendingOnFailedInquiry(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	gateway := newStubGateway()
	gateway.inquiry = InquiryResult{Status: GatewayStatusFailed}
	reconciler := mustNewReconciler(test, store, gateway)
	reservation := store.seedReservation(test, ReservationPendingPayment, nil)
	payment := store.seedStalePayment(test, reservation.ID, PaymentPending, testNow.Add(-10*time.Minute))
	capacityBefore := store.slots[reservation.SlotID].Capacity

	summary, err := reconciler.Run(context.Background())
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if summary.ProcessedCount != 1 || summary.UpdatedCount != 0 || summary.FailedCount != 0 {
		test.Fatalf("unexpected summary %+v", summary)
	}
	stored := store.payments[payment.ID]
	if stored.Status != PaymentPending {
		test.Fatalf("expected payment left pending, got %s", stored.Status)
	}
	if stored.FailureDetails == nil || stored.FailureDetails.LastChecked == nil {
		test.Fatalf("expected last check stamp, got %+v", stored.FailureDetails)
	}
	if got := store.reservations[reservation.ID].Status; got != ReservationPendingPayment {
		test.Fatalf("expected reservation untouched, got %s", got)
	}
	if got := store.slots[reservation.SlotID].Capacity; got != capacityBefore {
		test.Fatalf("expected capacity untouched, got %d", got)
	}
}

func TestReconcileSkipsRecentlyChecked(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	gateway := newStubGateway()
	reconciler := mustNewReconciler(test, store, gateway)
	reservation := store.seedReservation(test, ReservationCancelled, nil)
	payment := store.seedStalePayment(test, reservation.ID, PaymentFailed, testNow.Add(-time.Hour))
	checked := testNow.Add(-time.Minute)
	stored := store.payments[payment.ID]
	stored.FailureDetails = &FailureDetails{LastChecked: &checked}
	store.payments[payment.ID] = stored

	summary, err := reconciler.Run(context.Background())
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if summary.SkippedCount != 1 || summary.ProcessedCount != 0 {
		test.Fatalf("unexpected summary %+v", summary)
	}
	if gateway.inquiries != 0 {
		test.Fatalf("expected no inquiry, got %d", gateway.inquiries)
	}
}

func TestReconcileIsolatesCandidateErrors(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	gateway := newStubGateway()
	gateway.inquiryErr = errors.New("gateway timeout")
	reconciler := mustNewReconciler(test, store, gateway)
	first := store.seedReservation(test, ReservationCancelled, nil)
	second := store.seedReservation(test, ReservationCancelled, nil)
	failingPayment := store.seedStalePayment(test, first.ID, PaymentFailed, testNow.Add(-time.Hour))
	_ = store.seedStalePayment(test, second.ID, PaymentFailed, testNow.Add(-time.Hour))

	summary, err := reconciler.Run(context.Background())
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if summary.TotalChecked != 2 || summary.FailedCount != 2 || summary.ProcessedCount != 2 {
		test.Fatalf("unexpected summary %+v", summary)
	}
	if summary.SkippedCount != summary.TotalChecked-summary.ProcessedCount {
		test.Fatalf("skip accounting broken: %+v", summary)
	}
	stored := store.payments[failingPayment.ID]
	if stored.FailureDetails == nil || stored.FailureDetails.LastError == "" {
		test.Fatalf("expected last error recorded, got %+v", stored.FailureDetails)
	}
}

func TestReconcileRecordsGatewayReversalFailure(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	gateway := newStubGateway()
	gateway.reverseErr = errors.New("reversal rejected")
	reconciler := mustNewReconciler(test, store, gateway)
	reservation := store.seedReservation(test, ReservationCancelled, nil)
	payment := store.seedStalePayment(test, reservation.ID, PaymentFailed, testNow.Add(-time.Hour))

	summary, err := reconciler.Run(context.Background())
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if summary.FailedCount != 1 || summary.ReversedCount != 0 {
		test.Fatalf("unexpected summary %+v", summary)
	}
	stored := store.payments[payment.ID]
	if stored.Status != PaymentFailed {
		test.Fatalf("expected still failed, got %s", stored.Status)
	}
	if stored.FailureDetails == nil || !stored.FailureDetails.ReversalAttempted || stored.FailureDetails.ReversalError == "" {
		test.Fatalf("expected reversal attempt bookkeeping, got %+v", stored.FailureDetails)
	}
}

func mustNewReconciler(test *testing.T, store *stubStore, gateway Gateway) *Reconciler {
	test.Helper()
	payments := mustNewPaymentService(test, store, gateway)
	reconciler, err := NewReconciler(store, gateway, payments, DefaultPolicy(), func() time.Time { return testNow }, zap.NewNop())
	if err != nil {
		test.Fatalf("new reconciler: %v", err)
	}
	return reconciler
}

// seedStalePayment plants a payment with chosen timestamps so candidate
// queries pick it up or ignore it.
func (store *stubStore) seedStalePayment(test *testing.T, reservationID int64, status PaymentStatus, at time.Time) Payment {
	test.Helper()
	payment := store.seedPayment(test, reservationID, status)
	payment.CreatedAt = at
	payment.UpdatedAt = at
	store.payments[payment.ID] = payment
	return payment
}
