package reserve

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExpiryReaper cancels reservations that sat in pending_payment past the
// payment expiry window, returning their capacity units to the pool.
type ExpiryReaper struct {
	store  Store
	policy Policy
	nowFn  func() time.Time
	logger *zap.Logger
}

// NewExpiryReaper wires an ExpiryReaper.
func NewExpiryReaper(store Store, policy Policy, now func() time.Time, logger *zap.Logger) (*ExpiryReaper, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
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
	return &ExpiryReaper{store: store, policy: policy, nowFn: now, logger: logger}, nil
}

// Run executes one reaping pass. Each reservation is handled in its own
// transaction with a guarded status update, so a concurrent payment
// finalization wins and the reservation is left alone. Errors on one
// reservation never abort the pass.
func (reaper *ExpiryReaper) Run(ctx context.Context) (ReapSummary, error) {
	now := reaper.nowFn()
	summary := ReapSummary{Timestamp: now}

	expired, err := reaper.store.ListExpiredPendingPayment(ctx, now.Add(-reaper.policy.PaymentExpiry))
	if err != nil {
		return summary, err
	}
	summary.Expired = len(expired)

	for _, reservation := range expired {
		if err := reaper.reap(ctx, reservation); err != nil {
			summary.Failed++
			reaper.logger.Warn("expiring reservation failed",
				zap.Int64("reservation_id", reservation.ID), zap.Error(err))
			continue
		}
		summary.Cancelled++
	}

	reaper.logger.Info("expiry pass complete",
		zap.Int("expired", summary.Expired),
		zap.Int("cancelled", summary.Cancelled),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (reaper *ExpiryReaper) reap(ctx context.Context, reservation Reservation) error {
	return reaper.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := txStore.UpdateReservationStatus(ctx, reservation.ID, ReservationPendingPayment, ReservationCancelled); err != nil {
			return err
		}
		if err := releaseCapacity(ctx, txStore, reservation.SlotID); err != nil {
			return err
		}
		return txStore.CreateAuditRecord(ctx, AuditRecord{
			ID:        uuid.NewString(),
			UserID:    &reservation.UserID,
			Action:    auditActionReservationExpired,
			Details:   fmt.Sprintf(`{"reservation_id":%d,"slot_id":%d}`, reservation.ID, reservation.SlotID),
			CreatedAt: reaper.nowFn(),
		})
	})
}
