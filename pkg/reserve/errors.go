package reserve

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the reservation and payment services.
var (
	ErrSlotFull                 = errors.New("time slot is full")
	ErrItemUnavailable          = errors.New("menu item is unavailable")
	ErrSlotExpired              = errors.New("time slot has expired")
	ErrVoucherRequired          = errors.New("extra voucher requires a regular voucher")
	ErrExtraVoucherUnsupported  = errors.New("food does not support extra vouchers")
	ErrNegativeTrustScore       = errors.New("vouchers unavailable with a negative trust score")
	ErrInvalidTransition        = errors.New("invalid reservation transition")
	ErrReservationNotPending    = errors.New("reservation is not awaiting payment")
	ErrPaymentPending           = errors.New("reservation already has a pending payment")
	ErrPaymentNotReversible     = errors.New("payment is not in a reversible state")
	ErrPaymentClosed            = errors.New("payment already in a terminal state")
	ErrUnknownReservation       = errors.New("unknown reservation")
	ErrUnknownPayment           = errors.New("unknown payment")
	ErrUnknownSlot              = errors.New("unknown time slot")
	ErrUnknownMenuItem          = errors.New("unknown menu item")
	ErrUnknownFood              = errors.New("unknown food")
	ErrUnknownUser              = errors.New("unknown user")
	ErrGatewayUnavailable       = errors.New("payment gateway unavailable")
	ErrInvalidMealType          = errors.New("invalid meal type")
	ErrInvalidReservationStatus = errors.New("invalid reservation status")
	ErrInvalidPaymentStatus     = errors.New("invalid payment status")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
	ErrInvalidPolicy            = errors.New("invalid policy")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
