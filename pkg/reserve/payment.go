package reserve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentService owns the payment lifecycle and its coupling to the
// reservation lifecycle. Gateway calls are never issued while a row lock is
// held: the service reads what it needs, commits, talks to the gateway, then
// persists the outcome in a second short transaction.
type PaymentService struct {
	store   Store
	gateway Gateway
	policy  Policy
	nowFn   func() time.Time
	logger  OperationLogger
}

// NewPaymentService wires a PaymentService.
func NewPaymentService(store Store, gateway Gateway, policy Policy, now func() time.Time, options ...ServiceOption) (*PaymentService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	opts := serviceOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	return &PaymentService{
		store:   store,
		gateway: gateway,
		policy:  policy,
		nowFn:   now,
		logger:  opts.logger,
	}, nil
}

// OpenResult is returned from Open: the pending payment plus the gateway
// redirect the user must follow.
type OpenResult struct {
	Payment     Payment
	RedirectURL string
}

// Open requests a payment from the gateway for a reservation awaiting payment
// and records it as pending. At most one pending payment may exist per
// reservation.
func (service *PaymentService) Open(ctx context.Context, userID int64, reservationID int64, callbackURL string) (OpenResult, error) {
	result, operationError := service.open(ctx, userID, reservationID, callbackURL)
	service.logOperation(ctx, OperationLog{
		Operation:     operationOpen,
		UserID:        userID,
		ReservationID: reservationID,
		PaymentID:     result.Payment.ID,
		Amount:        result.Payment.Amount,
		Error:         operationError,
	})
	return result, operationError
}

func (service *PaymentService) open(ctx context.Context, userID int64, reservationID int64, callbackURL string) (OpenResult, error) {
	reservation, err := service.store.GetReservation(ctx, reservationID)
	if err != nil {
		return OpenResult{}, err
	}
	if userID > 0 && reservation.UserID != userID {
		return OpenResult{}, ErrUnknownReservation
	}
	if reservation.Status != ReservationPendingPayment {
		return OpenResult{}, ErrReservationNotPending
	}
	pending, err := service.store.HasPendingPayment(ctx, reservationID)
	if err != nil {
		return OpenResult{}, err
	}
	if pending {
		return OpenResult{}, ErrPaymentPending
	}
	user, err := service.store.GetUser(ctx, reservation.UserID)
	if err != nil {
		return OpenResult{}, err
	}

	// Gateway request happens outside any transaction.
	authority, redirectURL, err := service.gateway.RequestPayment(ctx, PaymentRequest{
		Amount:      reservation.Price,
		CallbackURL: callbackURL,
		Description: fmt.Sprintf("meal reservation %d", reservation.ID),
		Mobile:      user.PhoneNumber,
	})
	if err != nil {
		return OpenResult{}, err
	}

	now := service.nowFn()
	payment := Payment{
		ID:            uuid.NewString(),
		UserID:        reservation.UserID,
		ReservationID: &reservation.ID,
		Amount:        reservation.Price,
		Authority:     authority,
		Status:        PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		// Lock the reservation row so concurrent opens serialize on the
		// pending-payment check.
		locked, err := txStore.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if locked.Status != ReservationPendingPayment {
			return ErrReservationNotPending
		}
		stillPending, err := txStore.HasPendingPayment(ctx, reservationID)
		if err != nil {
			return err
		}
		if stillPending {
			return ErrPaymentPending
		}
		return txStore.CreatePayment(ctx, &payment)
	})
	if err != nil {
		return OpenResult{}, err
	}
	return OpenResult{Payment: payment, RedirectURL: redirectURL}, nil
}

// Verify finalizes a payment after the gateway redirects the user back.
// Finalizing an already-paid payment is a no-op returning the stored result.
// A gateway timeout or retry exhaustion marks the payment failed; the
// reconciliation job corrects the record later if the provider actually
// collected the money.
func (service *PaymentService) Verify(ctx context.Context, authority string, callbackOK bool) (Payment, error) {
	payment, operationError := service.verify(ctx, authority, callbackOK)
	service.logOperation(ctx, OperationLog{
		Operation: operationVerify,
		UserID:    payment.UserID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Status:    payment.Status.String(),
		Error:     operationError,
	})
	return payment, operationError
}

func (service *PaymentService) verify(ctx context.Context, authority string, callbackOK bool) (Payment, error) {
	payment, err := service.store.GetPaymentByAuthority(ctx, authority)
	if err != nil {
		return Payment{}, err
	}
	if payment.Status == PaymentPaid {
		return payment, nil
	}
	if !callbackOK {
		return service.FinalizeFailure(ctx, payment.ID, 0, "payment not completed by user")
	}

	// The verify call retries internally with backoff; no locks are held here.
	refID, err := service.gateway.VerifyPayment(ctx, payment.Amount, authority)
	if err != nil {
		code, message := classifyGatewayError(err)
		return service.FinalizeFailure(ctx, payment.ID, code, message)
	}
	return service.FinalizeSuccess(ctx, payment.ID, refID)
}

// FinalizeSuccess marks a payment paid, records the gateway reference, and
// moves the reservation from pending_payment to waiting. The cascade is best
// effort: an already-progressed or missing reservation never fails the
// payment transition. Idempotent for already-paid payments.
func (service *PaymentService) FinalizeSuccess(ctx context.Context, paymentID string, refID string) (Payment, error) {
	var payment Payment
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		locked, err := txStore.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if locked.Status == PaymentPaid {
			payment = locked
			return nil
		}
		if locked.Status == PaymentReversed {
			return ErrPaymentClosed
		}
		if err := txStore.UpdatePaymentStatus(ctx, paymentID, locked.Status, PaymentPaid); err != nil {
			return err
		}
		if err := txStore.SetPaymentRefID(ctx, paymentID, refID); err != nil {
			return err
		}
		locked.Status = PaymentPaid
		locked.RefID = refID
		payment = locked
		if locked.ReservationID != nil {
			cascadeErr := txStore.UpdateReservationStatus(ctx, *locked.ReservationID, ReservationPendingPayment, ReservationWaiting)
			if cascadeErr != nil && !isCascadeSkip(cascadeErr) {
				return cascadeErr
			}
		}
		return nil
	})
	if err != nil {
		return payment, err
	}
	return payment, nil
}

// FinalizeFailure marks a payment failed with structured failure details and
// cancels the reservation only if it is still awaiting payment, releasing its
// capacity unit. Marking an already-failed payment again is a no-op.
func (service *PaymentService) FinalizeFailure(ctx context.Context, paymentID string, errorCode int, errorMessage string) (Payment, error) {
	var payment Payment
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		locked, err := txStore.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if locked.Status == PaymentFailed {
			payment = locked
			return nil
		}
		if locked.Status == PaymentPaid || locked.Status == PaymentReversed {
			return ErrPaymentClosed
		}
		if err := txStore.UpdatePaymentStatus(ctx, paymentID, locked.Status, PaymentFailed); err != nil {
			return err
		}
		now := service.nowFn()
		details := FailureDetails{
			ErrorCode:    errorCode,
			ErrorMessage: errorMessage,
			FailedAt:     &now,
			Reversed:     false,
		}
		if err := txStore.UpdateFailureDetails(ctx, paymentID, &details); err != nil {
			return err
		}
		locked.Status = PaymentFailed
		locked.FailureDetails = &details
		payment = locked
		if locked.ReservationID != nil {
			reservation, reservationErr := txStore.GetReservationForUpdate(ctx, *locked.ReservationID)
			if reservationErr == nil && reservation.Status == ReservationPendingPayment {
				if err := txStore.UpdateReservationStatus(ctx, reservation.ID, ReservationPendingPayment, ReservationCancelled); err != nil {
					return err
				}
				if err := releaseCapacity(ctx, txStore, reservation.SlotID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return payment, err
	}
	return payment, nil
}

// Reverse moves a failed payment to reversed after the gateway has undone the
// charge, and reactivates the cancelled reservation. Reversing from any other
// status is rejected as a consistency violation.
func (service *PaymentService) Reverse(ctx context.Context, paymentID string) (Payment, error) {
	var payment Payment
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		locked, err := txStore.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if locked.Status != PaymentFailed {
			return fmt.Errorf("%w: status is %s", ErrPaymentNotReversible, locked.Status)
		}
		if err := txStore.UpdatePaymentStatus(ctx, paymentID, PaymentFailed, PaymentReversed); err != nil {
			return err
		}
		now := service.nowFn()
		details := locked.FailureDetails
		if details == nil {
			details = &FailureDetails{}
		}
		details.Reversed = true
		details.ReversedAt = &now
		if err := txStore.UpdateFailureDetails(ctx, paymentID, details); err != nil {
			return err
		}
		locked.Status = PaymentReversed
		locked.FailureDetails = details
		payment = locked
		if locked.ReservationID != nil {
			if err := service.reactivateReservation(ctx, txStore, *locked.ReservationID); err != nil {
				return err
			}
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReverse,
		PaymentID: paymentID,
		Status:    payment.Status.String(),
		Error:     operationError,
	})
	return payment, operationError
}

// reactivateReservation revives a cancelled reservation whose payment turned
// out to have succeeded. The capacity unit is re-reserved when one is left;
// when the slot has meanwhile sold out the reservation is revived anyway (the
// money was collected) and the shortfall is written to the audit trail.
func (service *PaymentService) reactivateReservation(ctx context.Context, txStore Store, reservationID int64) error {
	reservation, err := txStore.GetReservationForUpdate(ctx, reservationID)
	if err != nil {
		if isCascadeSkip(err) {
			return nil
		}
		return err
	}
	if reservation.Status != ReservationCancelled {
		return nil
	}
	if err := txStore.UpdateReservationStatus(ctx, reservationID, ReservationCancelled, ReservationWaiting); err != nil {
		return err
	}
	reserved, err := tryReserveCapacity(ctx, txStore, reservation.SlotID)
	if err != nil {
		return err
	}
	action := auditActionReservationRevived
	if !reserved {
		action = auditActionCapacityShortfall
	}
	return txStore.CreateAuditRecord(ctx, AuditRecord{
		ID:        uuid.NewString(),
		UserID:    &reservation.UserID,
		Action:    action,
		Details:   fmt.Sprintf(`{"reservation_id":%d,"slot_id":%d}`, reservationID, reservation.SlotID),
		CreatedAt: service.nowFn(),
	})
}

// History returns the user's payments, newest first, optionally filtered by
// status.
func (service *PaymentService) History(ctx context.Context, filter PaymentFilter) ([]Payment, int64, error) {
	return service.store.ListPayments(ctx, filter)
}

func (service *PaymentService) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" && entry.Error == nil {
		entry.Status = "ok"
	}
	service.logger.LogOperation(ctx, entry)
}

// isCascadeSkip reports whether a cascade target was missing or already past
// the expected status; both are tolerated by design of the coupling.
func isCascadeSkip(err error) bool {
	return errors.Is(err, ErrUnknownReservation) || errors.Is(err, ErrInvalidTransition)
}

// GatewayStatusError carries a terminal business code from the provider.
type GatewayStatusError struct {
	StatusCode int
	Message    string
}

// Error formats the provider failure.
func (statusError *GatewayStatusError) Error() string {
	return fmt.Sprintf("gateway declined: code %d: %s", statusError.StatusCode, statusError.Message)
}

func classifyGatewayError(err error) (int, string) {
	var statusError *GatewayStatusError
	if errors.As(err, &statusError) {
		return statusError.StatusCode, statusError.Message
	}
	return 0, err.Error()
}
