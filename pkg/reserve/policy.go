package reserve

import (
	"fmt"
	"time"
)

const (
	defaultVoucherDiscount      int64 = 10000
	defaultTrustAwardDivisor    int64 = 10000
	defaultTrustPenalty               = 10
	defaultMaxReservationNumber       = 9999
	defaultPaymentExpiry              = 10 * time.Minute
	defaultReconcileWindow            = 30 * time.Minute
	defaultRecheckInterval            = 5 * time.Minute
)

// Policy aggregates the tunable business constants of the engine. The zero
// value validates to the documented defaults; the literals here are policy,
// not invariants, and may be overridden from configuration.
type Policy struct {
	// VoucherDiscount is subtracted from the food price once per voucher.
	VoucherDiscount int64
	// TrustAwardDivisor converts a picked-up price into trust points.
	TrustAwardDivisor int64
	// TrustPenalty is deducted when a voucher-backed meal is not picked up,
	// twice when an extra voucher was used.
	TrustPenalty int
	// MaxReservationNumber caps the per-meal daily sequence.
	MaxReservationNumber int
	// PaymentExpiry is how long a reservation may sit in pending_payment
	// before the reaper cancels it.
	PaymentExpiry time.Duration
	// ReconcileWindow bounds both reconciliation candidate sets.
	ReconcileWindow time.Duration
	// RecheckInterval suppresses re-inquiry of recently checked payments.
	RecheckInterval time.Duration
}

// DefaultPolicy returns the documented default constants.
func DefaultPolicy() Policy {
	policy := Policy{}
	_ = policy.Validate()
	return policy
}

// Validate fills zero fields with defaults and rejects nonsense values.
func (policy *Policy) Validate() error {
	if policy.VoucherDiscount == 0 {
		policy.VoucherDiscount = defaultVoucherDiscount
	}
	if policy.TrustAwardDivisor == 0 {
		policy.TrustAwardDivisor = defaultTrustAwardDivisor
	}
	if policy.TrustPenalty == 0 {
		policy.TrustPenalty = defaultTrustPenalty
	}
	if policy.MaxReservationNumber == 0 {
		policy.MaxReservationNumber = defaultMaxReservationNumber
	}
	if policy.PaymentExpiry == 0 {
		policy.PaymentExpiry = defaultPaymentExpiry
	}
	if policy.ReconcileWindow == 0 {
		policy.ReconcileWindow = defaultReconcileWindow
	}
	if policy.RecheckInterval == 0 {
		policy.RecheckInterval = defaultRecheckInterval
	}
	if policy.VoucherDiscount < 0 {
		return fmt.Errorf("%w: voucher discount must not be negative", ErrInvalidPolicy)
	}
	if policy.TrustAwardDivisor < 0 {
		return fmt.Errorf("%w: trust award divisor must not be negative", ErrInvalidPolicy)
	}
	if policy.TrustPenalty < 0 {
		return fmt.Errorf("%w: trust penalty is applied as a deduction and must be positive", ErrInvalidPolicy)
	}
	if policy.MaxReservationNumber < 1 {
		return fmt.Errorf("%w: max reservation number must be positive", ErrInvalidPolicy)
	}
	if policy.PaymentExpiry < 0 || policy.ReconcileWindow < 0 || policy.RecheckInterval < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidPolicy)
	}
	return nil
}
