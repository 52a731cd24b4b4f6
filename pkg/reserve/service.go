package reserve

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// ReservationService owns the reservation lifecycle: placement with capacity
// allocation and pricing, status transitions with trust-score side effects,
// and deliveries.
type ReservationService struct {
	store    Store
	policy   Policy
	nowFn    func() time.Time
	notifier Notifier
	logger   OperationLogger
	randFn   func(n int) int
}

// NewReservationService wires a ReservationService.
func NewReservationService(store Store, policy Policy, now func() time.Time, options ...ServiceOption) (*ReservationService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	opts := serviceOptions{randFn: rand.Intn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	return &ReservationService{
		store:    store,
		policy:   policy,
		nowFn:    now,
		notifier: opts.notifier,
		logger:   opts.logger,
		randFn:   opts.randFn,
	}, nil
}

// PlaceInput describes a reservation request.
type PlaceInput struct {
	UserID          int64
	FoodID          int64
	SlotID          int64
	MealType        MealType
	ReservedDate    time.Time
	HasVoucher      bool
	HasExtraVoucher bool
}

// Place validates the request, allocates one capacity unit, assigns the
// per-meal sequence number and delivery code, and creates the reservation,
// all inside a single transaction. Capacity rejections surface as ErrSlotFull
// or ErrItemUnavailable and are never retried here.
func (service *ReservationService) Place(ctx context.Context, input PlaceInput) (Reservation, error) {
	var reservation Reservation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		user, err := txStore.GetUser(ctx, input.UserID)
		if err != nil {
			return err
		}
		food, err := txStore.GetFood(ctx, input.FoodID)
		if err != nil {
			return err
		}
		if err := validateVouchers(user, food, input); err != nil {
			return err
		}
		slot, err := txStore.GetSlotForUpdate(ctx, input.SlotID)
		if err != nil {
			return err
		}
		now := service.nowFn()
		expired, expiryErr := slotExpired(slot, input.ReservedDate, now)
		if expiryErr != nil {
			service.logOperation(ctx, OperationLog{
				Operation: operationPlace,
				UserID:    input.UserID,
				Status:    "slot_window_unparsed",
				Error:     expiryErr,
			})
		}
		if expired {
			return ErrSlotExpired
		}
		if err := reserveCapacity(ctx, txStore, slot.ID); err != nil {
			return err
		}
		// The daily menu row serializes sequence assignment per meal+date.
		if err := txStore.LockDailyMenu(ctx, input.ReservedDate, input.MealType); err != nil {
			return err
		}
		highest, err := txStore.MaxReservationNumber(ctx, input.ReservedDate, input.MealType)
		if err != nil {
			return err
		}
		number := highest + 1
		if number > service.policy.MaxReservationNumber {
			number = service.policy.MaxReservationNumber
		}
		price, original := service.computePrice(food, input)
		status := ReservationPendingPayment
		if price == 0 {
			status = ReservationWaiting
		}
		reservation = Reservation{
			UserID:            user.ID,
			FoodID:            food.ID,
			SlotID:            slot.ID,
			MealType:          input.MealType,
			ReservedDate:      input.ReservedDate,
			HasVoucher:        input.HasVoucher,
			HasExtraVoucher:   input.HasExtraVoucher,
			Price:             price,
			OriginalPrice:     original,
			Status:            status,
			ReservationNumber: number,
			DeliveryCode:      service.deliveryCode(number),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return txStore.CreateReservation(ctx, &reservation)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationPlace,
		UserID:        input.UserID,
		ReservationID: reservation.ID,
		Amount:        reservation.Price,
		Status:        reservation.Status.String(),
		Error:         operationError,
	})
	return reservation, operationError
}

// Cancel withdraws a reservation that is still awaiting payment, returning
// its capacity unit.
func (service *ReservationService) Cancel(ctx context.Context, reservationID int64, userID int64) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		reservation, err := txStore.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if userID > 0 && reservation.UserID != userID {
			return ErrUnknownReservation
		}
		if reservation.Status != ReservationPendingPayment {
			return ErrReservationNotPending
		}
		if err := txStore.UpdateReservationStatus(ctx, reservationID, ReservationPendingPayment, ReservationCancelled); err != nil {
			return err
		}
		return releaseCapacity(ctx, txStore, reservation.SlotID)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationCancel,
		UserID:        userID,
		ReservationID: reservationID,
		Error:         operationError,
	})
	return operationError
}

// Transition moves a reservation to a new status. Trust-score side effects
// are applied in the same transaction as the status write; the pickup
// notification fires after commit and never blocks the move.
func (service *ReservationService) Transition(ctx context.Context, reservationID int64, to ReservationStatus) error {
	var notification *ReadyNotification
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		reservation, err := txStore.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if !CanTransition(reservation.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, reservation.Status, to)
		}
		if err := txStore.UpdateReservationStatus(ctx, reservationID, reservation.Status, to); err != nil {
			return err
		}
		if to == ReservationCancelled {
			if err := releaseCapacity(ctx, txStore, reservation.SlotID); err != nil {
				return err
			}
		}
		if err := service.applyTrustImpact(ctx, txStore, reservation, to); err != nil {
			return err
		}
		if reservation.Status == ReservationPreparing && to == ReservationReadyToPickup {
			user, err := txStore.GetUser(ctx, reservation.UserID)
			if err == nil {
				notification = &ReadyNotification{
					PhoneNumber:  user.PhoneNumber,
					FirstName:    user.FirstName,
					DeliveryCode: reservation.DeliveryCode,
				}
			}
		}
		return nil
	})
	if operationError == nil && notification != nil {
		service.notifyReady(ctx, *notification)
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationTransition,
		ReservationID: reservationID,
		Status:        to.String(),
		Error:         operationError,
	})
	return operationError
}

// Deliver resolves a delivery code for a given date and marks the meal
// picked up, awarding trust points.
func (service *ReservationService) Deliver(ctx context.Context, deliveryCode string, date time.Time) (Reservation, error) {
	reservation, err := service.store.FindReservationByDeliveryCode(ctx, deliveryCode, date)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationDeliver, Error: err})
		return Reservation{}, err
	}
	if err := service.Transition(ctx, reservation.ID, ReservationPickedUp); err != nil {
		return Reservation{}, err
	}
	return service.store.GetReservation(ctx, reservation.ID)
}

// ListMine returns the caller's reservations, newest first.
func (service *ReservationService) ListMine(ctx context.Context, userID int64) ([]Reservation, error) {
	return service.store.ListUserReservations(ctx, userID)
}

// ListForMeal returns all reservations for one meal on one date, for kitchen
// staff.
func (service *ReservationService) ListForMeal(ctx context.Context, date time.Time, meal MealType) ([]Reservation, error) {
	return service.store.ListReservationsForMeal(ctx, date, meal)
}

// computePrice applies voucher discounts, clamping the result at zero.
func (service *ReservationService) computePrice(food Food, input PlaceInput) (price int64, original int64) {
	original = food.Price
	price = original
	if input.HasVoucher {
		price -= service.policy.VoucherDiscount
		if input.HasExtraVoucher && food.SupportsExtraVoucher {
			price -= service.policy.VoucherDiscount
		}
	}
	if price < 0 {
		price = 0
	}
	return price, original
}

// deliveryCode builds the six-digit pickup token: the zero-padded sequence
// number plus two random digits. Uniqueness is best effort.
func (service *ReservationService) deliveryCode(number int) string {
	return fmt.Sprintf("%04d%02d", number, service.randFn(deliveryCodeRandomDigits))
}

func (service *ReservationService) applyTrustImpact(ctx context.Context, txStore Store, reservation Reservation, to ReservationStatus) error {
	var impact int
	switch {
	case to == ReservationPickedUp:
		impact = int(reservation.Price / service.policy.TrustAwardDivisor)
	case to == ReservationNotPickedUp && reservation.HasVoucher:
		impact = -service.policy.TrustPenalty
		if reservation.HasExtraVoucher {
			impact -= service.policy.TrustPenalty
		}
	default:
		return nil
	}
	if impact == 0 {
		return nil
	}
	if err := txStore.AdjustTrustScore(ctx, reservation.UserID, impact, service.nowFn()); err != nil {
		return err
	}
	return txStore.SetReservationImpact(ctx, reservation.ID, impact)
}

func (service *ReservationService) notifyReady(ctx context.Context, notification ReadyNotification) {
	if service.notifier == nil {
		return
	}
	if err := service.notifier.NotifyReady(ctx, notification); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationTransition,
			Status:    "notify_failed",
			Error:     err,
		})
	}
}

func (service *ReservationService) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" && entry.Error == nil {
		entry.Status = "ok"
	}
	service.logger.LogOperation(ctx, entry)
}

func validateVouchers(user User, food Food, input PlaceInput) error {
	if input.HasExtraVoucher && !input.HasVoucher {
		return ErrVoucherRequired
	}
	if input.HasExtraVoucher && !food.SupportsExtraVoucher {
		return ErrExtraVoucherUnsupported
	}
	if user.TrustScore < 0 && (input.HasVoucher || input.HasExtraVoucher) {
		return ErrNegativeTrustScore
	}
	return nil
}

// slotExpired reports whether the slot's window has already closed for a
// same-day reservation. Future dates never expire. An unparseable end time
// is reported to the caller but treated as not expired.
func slotExpired(slot TimeSlot, reservedDate time.Time, now time.Time) (bool, error) {
	if reservedDate.Format("2006-01-02") != now.Format("2006-01-02") {
		return false, nil
	}
	end, err := time.Parse("15:04", slot.EndTime)
	if err != nil {
		return false, fmt.Errorf("parse slot %d end time %q: %w", slot.ID, slot.EndTime, err)
	}
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), end.Hour(), end.Minute(), 0, 0, now.Location())
	return !cutoff.After(now), nil
}
