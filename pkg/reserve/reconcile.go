package reserve

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Reconciler periodically re-checks payments whose recorded state may
// disagree with the gateway's. Failed payments older than the reconcile
// window are inquired and reversed when the provider actually collected the
// money; recent pending payments are re-checked and promoted when they turn
// out to have succeeded.
type Reconciler struct {
	store    Store
	gateway  Gateway
	payments *PaymentService
	policy   Policy
	nowFn    func() time.Time
	logger   *zap.Logger
}

// NewReconciler wires a Reconciler.
func NewReconciler(store Store, gateway Gateway, payments *PaymentService, policy Policy, now func() time.Time, logger *zap.Logger) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway dependency is nil", ErrInvalidServiceConfig)
	}
	if payments == nil {
		return nil, fmt.Errorf("%w: payment service dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		gateway:  gateway,
		payments: payments,
		policy:   policy,
		nowFn:    now,
		logger:   logger,
	}, nil
}

// Run executes one reconciliation pass and returns its summary. A candidate
// that errors is recorded and skipped; a single bad payment never aborts the
// pass. Running twice in a row is harmless: the recheck interval skips
// recently inspected candidates and every state change is guarded.
func (reconciler *Reconciler) Run(ctx context.Context) (ReconciliationSummary, error) {
	now := reconciler.nowFn()
	summary := ReconciliationSummary{Timestamp: now}

	failedCandidates, err := reconciler.store.ListFailedCandidates(ctx, now.Add(-reconciler.policy.ReconcileWindow))
	if err != nil {
		return summary, err
	}
	pendingCandidates, err := reconciler.store.ListPendingCandidates(ctx, now.Add(-reconciler.policy.ReconcileWindow))
	if err != nil {
		return summary, err
	}
	summary.TotalChecked = len(failedCandidates) + len(pendingCandidates)

	for _, payment := range failedCandidates {
		if reconciler.recentlyChecked(payment, now) {
			summary.SkippedCount++
			continue
		}
		reconciler.checkFailed(ctx, payment, &summary)
	}
	for _, payment := range pendingCandidates {
		if reconciler.recentlyChecked(payment, now) {
			summary.SkippedCount++
			continue
		}
		reconciler.checkPending(ctx, payment, &summary)
	}

	reconciler.logger.Info("reconciliation pass complete",
		zap.Int("total_checked", summary.TotalChecked),
		zap.Int("processed", summary.ProcessedCount),
		zap.Int("reversed", summary.ReversedCount),
		zap.Int("updated", summary.UpdatedCount),
		zap.Int("failed", summary.FailedCount),
		zap.Int("skipped", summary.SkippedCount))
	return summary, nil
}

func (reconciler *Reconciler) recentlyChecked(payment Payment, now time.Time) bool {
	if payment.FailureDetails == nil || payment.FailureDetails.LastChecked == nil {
		return false
	}
	return now.Sub(*payment.FailureDetails.LastChecked) < reconciler.policy.RecheckInterval
}

// checkFailed inquires a failed payment and reverses it when the provider
// reports the money as collected. The reversal attempt is recorded before the
// gateway call so a crash mid-reversal is visible in the details.
func (reconciler *Reconciler) checkFailed(ctx context.Context, payment Payment, summary *ReconciliationSummary) {
	defer reconciler.recoverCandidate(payment.ID, summary)

	summary.ProcessedCount++
	result, err := reconciler.gateway.InquirePayment(ctx, payment.Authority)
	if err != nil {
		reconciler.recordError(ctx, payment, err, summary)
		return
	}

	if !result.Status.Succeeded() {
		reconciler.stampChecked(ctx, payment.ID)
		return
	}

	details := cloneDetails(payment.FailureDetails)
	details.ReversalAttempted = true
	if err := reconciler.store.UpdateFailureDetails(ctx, payment.ID, details); err != nil {
		reconciler.recordError(ctx, payment, err, summary)
		return
	}
	if err := reconciler.gateway.ReversePayment(ctx, payment.Authority); err != nil {
		details.ReversalError = err.Error()
		now := reconciler.nowFn()
		details.LastChecked = &now
		if updateErr := reconciler.store.UpdateFailureDetails(ctx, payment.ID, details); updateErr != nil {
			reconciler.logger.Warn("recording reversal error failed",
				zap.String("payment_id", payment.ID), zap.Error(updateErr))
		}
		summary.FailedCount++
		return
	}
	if _, err := reconciler.payments.Reverse(ctx, payment.ID); err != nil {
		reconciler.recordError(ctx, payment, err, summary)
		return
	}
	summary.ReversedCount++
	reconciler.stampChecked(ctx, payment.ID)
}

// checkPending inquires a recent pending payment and promotes it when the
// gateway already collected the money. Anything else is left alone with a
// last-check stamp: the attempt may still be in flight, and failing it here
// would cancel a reservation the user can still pay for.
func (reconciler *Reconciler) checkPending(ctx context.Context, payment Payment, summary *ReconciliationSummary) {
	defer reconciler.recoverCandidate(payment.ID, summary)

	summary.ProcessedCount++
	result, err := reconciler.gateway.InquirePayment(ctx, payment.Authority)
	if err != nil {
		reconciler.recordError(ctx, payment, err, summary)
		return
	}

	if result.Status.Succeeded() {
		if _, err := reconciler.payments.FinalizeSuccess(ctx, payment.ID, result.RefID); err != nil {
			reconciler.recordError(ctx, payment, err, summary)
			return
		}
		summary.UpdatedCount++
	}
	reconciler.stampChecked(ctx, payment.ID)
}

// stampChecked records the inspection time on the freshly stored details so
// the recheck guard sees it and earlier writes in the same pass survive.
func (reconciler *Reconciler) stampChecked(ctx context.Context, paymentID string) {
	payment, err := reconciler.store.GetPayment(ctx, paymentID)
	if err != nil {
		reconciler.logger.Warn("stamping last check failed",
			zap.String("payment_id", paymentID), zap.Error(err))
		return
	}
	details := cloneDetails(payment.FailureDetails)
	now := reconciler.nowFn()
	details.LastChecked = &now
	if err := reconciler.store.UpdateFailureDetails(ctx, paymentID, details); err != nil {
		reconciler.logger.Warn("stamping last check failed",
			zap.String("payment_id", paymentID), zap.Error(err))
	}
}

func (reconciler *Reconciler) recordError(ctx context.Context, payment Payment, cause error, summary *ReconciliationSummary) {
	summary.FailedCount++
	details := cloneDetails(payment.FailureDetails)
	details.LastError = cause.Error()
	now := reconciler.nowFn()
	details.LastChecked = &now
	if err := reconciler.store.UpdateFailureDetails(ctx, payment.ID, details); err != nil {
		reconciler.logger.Warn("recording candidate error failed",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}
	reconciler.logger.Warn("reconciliation candidate failed",
		zap.String("payment_id", payment.ID), zap.Error(cause))
}

func (reconciler *Reconciler) recoverCandidate(paymentID string, summary *ReconciliationSummary) {
	if recovered := recover(); recovered != nil {
		summary.FailedCount++
		reconciler.logger.Error("reconciliation candidate panicked",
			zap.String("payment_id", paymentID), zap.Any("panic", recovered))
	}
}

func cloneDetails(details *FailureDetails) *FailureDetails {
	if details == nil {
		return &FailureDetails{}
	}
	copied := *details
	return &copied
}
