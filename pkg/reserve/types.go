package reserve

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MealType distinguishes the two daily menus.
type MealType string

const (
	MealLunch  MealType = "lunch"
	MealDinner MealType = "dinner"
)

// ParseMealType validates and normalizes a meal type.
func ParseMealType(raw string) (MealType, error) {
	switch MealType(strings.ToLower(strings.TrimSpace(raw))) {
	case MealLunch:
		return MealLunch, nil
	case MealDinner:
		return MealDinner, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMealType, raw)
}

// String returns the normalized meal type.
func (meal MealType) String() string {
	return string(meal)
}

// ReservationStatus defines the reservation lifecycle.
type ReservationStatus string

const (
	ReservationPendingPayment ReservationStatus = "pending_payment"
	ReservationWaiting        ReservationStatus = "waiting"
	ReservationPreparing      ReservationStatus = "preparing"
	ReservationReadyToPickup  ReservationStatus = "ready_to_pickup"
	ReservationPickedUp       ReservationStatus = "picked_up"
	ReservationNotPickedUp    ReservationStatus = "not_picked_up"
	ReservationCancelled      ReservationStatus = "cancelled"
)

// ParseReservationStatus validates a reservation status value.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	status := ReservationStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case ReservationPendingPayment, ReservationWaiting, ReservationPreparing,
		ReservationReadyToPickup, ReservationPickedUp, ReservationNotPickedUp,
		ReservationCancelled:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReservationStatus, raw)
}

// String returns the normalized status.
func (status ReservationStatus) String() string {
	return string(status)
}

// reservationTransitions whitelists the legal status moves. Everything else
// is rejected with ErrInvalidTransition.
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationPendingPayment: {ReservationWaiting, ReservationCancelled},
	ReservationWaiting:        {ReservationPreparing},
	ReservationPreparing:      {ReservationReadyToPickup},
	ReservationReadyToPickup:  {ReservationPickedUp, ReservationNotPickedUp},
	ReservationCancelled:      {ReservationWaiting},
}

// CanTransition reports whether from → to is a legal reservation move.
func CanTransition(from, to ReservationStatus) bool {
	for _, allowed := range reservationTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// PaymentStatus defines the payment lifecycle.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentReversed PaymentStatus = "reversed"
)

// ParsePaymentStatus validates a payment status value.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentReversed:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, raw)
}

// String returns the normalized status.
func (status PaymentStatus) String() string {
	return string(status)
}

// User is the account view the engine needs: voucher eligibility and trust
// score bookkeeping. Account management itself lives elsewhere.
type User struct {
	ID          int64
	PhoneNumber string
	FirstName   string
	LastName    string
	Role        string
	TrustScore  int
}

// Food is a priced offering from the catalog service.
type Food struct {
	ID                   int64
	Name                 string
	Price                int64
	SupportsExtraVoucher bool
}

// TimeSlot is one reservable window of a menu item. Capacity is owned by the
// capacity ledger and mutated only under row locks.
type TimeSlot struct {
	ID          int64
	MenuItemID  int64
	StartTime   string
	EndTime     string
	Capacity    int
	IsAvailable bool
}

// MenuItem is the daily instance of a food offering. DailyCapacity tracks the
// aggregate remaining units across the item's slots.
type MenuItem struct {
	ID            int64
	DailyMenuID   int64
	FoodID        int64
	DailyCapacity int
	IsAvailable   bool
	Disabled      bool
}

// Reservation binds one user, one food, and one time-slot capacity unit.
type Reservation struct {
	ID                int64
	UserID            int64
	FoodID            int64
	SlotID            int64
	MealType          MealType
	ReservedDate      time.Time
	HasVoucher        bool
	HasExtraVoucher   bool
	Price             int64
	OriginalPrice     int64
	TrustScoreImpact  int
	Status            ReservationStatus
	ReservationNumber int
	DeliveryCode      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FailureDetails records everything the engine learns about a payment that
// did not complete cleanly, including reconciliation bookkeeping.
type FailureDetails struct {
	ErrorCode         int        `json:"error_code,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	Reversed          bool       `json:"reversed"`
	ReversalAttempted bool       `json:"reversal_attempted,omitempty"`
	ReversedAt        *time.Time `json:"reversed_at,omitempty"`
	ReversalError     string     `json:"reversal_error,omitempty"`
	LastChecked       *time.Time `json:"last_checked,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

// Payment tracks one attempt to collect money for a reservation. The
// reservation reference is nullable: a payment may outlive its reservation.
type Payment struct {
	ID             string
	UserID         int64
	ReservationID  *int64
	Amount         int64
	Authority      string
	RefID          string
	Status         PaymentStatus
	FailureDetails *FailureDetails
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AuditRecord is an operator-facing trace of background mutations.
type AuditRecord struct {
	ID        string
	UserID    *int64
	Action    string
	Details   string
	CreatedAt time.Time
}

// MenuListing is a browse view of one daily menu item with its time slots.
type MenuListing struct {
	MenuItem MenuItem
	Food     Food
	Slots    []TimeSlot
}

// GatewayStatus is the provider-side view of a payment attempt.
type GatewayStatus string

const (
	GatewayStatusPaid     GatewayStatus = "PAID"
	GatewayStatusVerified GatewayStatus = "VERIFIED"
	GatewayStatusInBank   GatewayStatus = "IN_BANK"
	GatewayStatusFailed   GatewayStatus = "FAILED"
)

// Succeeded reports whether the provider considers the payment collected.
func (status GatewayStatus) Succeeded() bool {
	return status == GatewayStatusPaid || status == GatewayStatusVerified
}

// PaymentRequest carries everything the gateway needs to open a payment.
type PaymentRequest struct {
	Amount      int64
	CallbackURL string
	Description string
	Mobile      string
}

// InquiryResult is the provider's answer to a read-only status probe.
type InquiryResult struct {
	Status GatewayStatus
	RefID  string
}

// Gateway is the external payment provider contract. Every call is blocking
// network I/O with a bounded timeout; callers must not hold row locks across
// these calls.
type Gateway interface {
	RequestPayment(ctx context.Context, request PaymentRequest) (authority string, redirectURL string, err error)
	VerifyPayment(ctx context.Context, amount int64, authority string) (refID string, err error)
	InquirePayment(ctx context.Context, authority string) (InquiryResult, error)
	ReversePayment(ctx context.Context, authority string) error
}

// ReadyNotification is handed to the notifier when a meal becomes ready.
type ReadyNotification struct {
	PhoneNumber  string
	FirstName    string
	DeliveryCode string
}

// Notifier delivers pickup notifications. Failures are logged by the caller
// and never block a state transition.
type Notifier interface {
	NotifyReady(ctx context.Context, notification ReadyNotification) error
}

// ReconciliationSummary reports one reconciliation run.
type ReconciliationSummary struct {
	TotalChecked   int       `json:"total_checked"`
	ProcessedCount int       `json:"processed_count"`
	ReversedCount  int       `json:"reversed_count"`
	UpdatedCount   int       `json:"updated_count"`
	FailedCount    int       `json:"failed_count"`
	SkippedCount   int       `json:"skipped_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReapSummary reports one expiry-reaper run.
type ReapSummary struct {
	Expired   int       `json:"expired"`
	Cancelled int       `json:"cancelled"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentFilter narrows payment history listings.
type PaymentFilter struct {
	UserID int64
	Status PaymentStatus
	Limit  int
	Offset int
}

// Store is the persistence contract used by the services. Implementations
// must provide transactional semantics with row-level locking: the ForUpdate
// getters lock the row until the surrounding transaction commits.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetUser(ctx context.Context, userID int64) (User, error)
	AdjustTrustScore(ctx context.Context, userID int64, delta int, at time.Time) error

	GetFood(ctx context.Context, foodID int64) (Food, error)
	GetSlotForUpdate(ctx context.Context, slotID int64) (TimeSlot, error)
	GetMenuItemForUpdate(ctx context.Context, menuItemID int64) (MenuItem, error)
	SetSlotCapacity(ctx context.Context, slotID int64, capacity int, available bool) error
	SetMenuItemCapacity(ctx context.Context, menuItemID int64, capacity int, available bool) error
	LockDailyMenu(ctx context.Context, date time.Time, meal MealType) error
	MaxReservationNumber(ctx context.Context, date time.Time, meal MealType) (int, error)

	CreateReservation(ctx context.Context, reservation *Reservation) error
	GetReservation(ctx context.Context, reservationID int64) (Reservation, error)
	GetReservationForUpdate(ctx context.Context, reservationID int64) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, reservationID int64, from, to ReservationStatus) error
	SetReservationImpact(ctx context.Context, reservationID int64, impact int) error
	FindReservationByDeliveryCode(ctx context.Context, deliveryCode string, date time.Time) (Reservation, error)
	ListUserReservations(ctx context.Context, userID int64) ([]Reservation, error)
	ListReservationsForMeal(ctx context.Context, date time.Time, meal MealType) ([]Reservation, error)
	ListExpiredPendingPayment(ctx context.Context, cutoff time.Time) ([]Reservation, error)

	CreatePayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, paymentID string) (Payment, error)
	GetPaymentByAuthority(ctx context.Context, authority string) (Payment, error)
	HasPendingPayment(ctx context.Context, reservationID int64) (bool, error)
	UpdatePaymentStatus(ctx context.Context, paymentID string, from, to PaymentStatus) error
	SetPaymentRefID(ctx context.Context, paymentID string, refID string) error
	UpdateFailureDetails(ctx context.Context, paymentID string, details *FailureDetails) error
	ListFailedCandidates(ctx context.Context, cutoff time.Time) ([]Payment, error)
	ListPendingCandidates(ctx context.Context, cutoff time.Time) ([]Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, int64, error)

	CreateAuditRecord(ctx context.Context, record AuditRecord) error
}
