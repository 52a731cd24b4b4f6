package reserve

import (
	"context"

	"go.uber.org/zap"
)

// ServiceOption configures a service instance.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger   OperationLogger
	notifier Notifier
	randFn   func(n int) int
}

// OperationLogger records domain-level events emitted by service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one state-changing operation.
type OperationLog struct {
	Operation     string
	UserID        int64
	ReservationID int64
	PaymentID     string
	Amount        int64
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(options *serviceOptions) {
		options.logger = logger
	}
}

// WithNotifier wires the pickup notifier.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(options *serviceOptions) {
		options.notifier = notifier
	}
}

// WithRand overrides the delivery-code random source, for tests.
func WithRand(randFn func(n int) int) ServiceOption {
	return func(options *serviceOptions) {
		options.randFn = randFn
	}
}

// ZapOperationLogger emits operation logs through a zap logger.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps a zap logger as an OperationLogger. A nil
// logger degrades to a no-op.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation records one service operation at info level, or warn when the
// operation failed.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.Int64("user_id", entry.UserID),
	}
	if entry.ReservationID != 0 {
		fields = append(fields, zap.Int64("reservation_id", entry.ReservationID))
	}
	if entry.PaymentID != "" {
		fields = append(fields, zap.String("payment_id", entry.PaymentID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.Status != "" {
		fields = append(fields, zap.String("status", entry.Status))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("operation failed", fields...)
		return
	}
	operationLogger.logger.Info("operation completed", fields...)
}
