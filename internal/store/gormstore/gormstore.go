package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campuskitchen/dinehall/pkg/reserve"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	dateLayout            = "2006-01-02"

	errorOperationStore    = "store"
	errorSubjectUser       = "user"
	errorSubjectFood       = "food"
	errorSubjectMenu       = "menu"
	errorSubjectSlot       = "slot"
	errorSubjectItem       = "menu_item"
	errorSubjectRes        = "reservation"
	errorSubjectPayment    = "payment"
	errorSubjectAudit      = "audit"
	errorCodeCreate        = "create"
	errorCodeDuplicate     = "duplicate"
	errorCodeGet           = "get"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeLock          = "lock"
	errorCodeMaxNumber     = "max_number"
	errorCodeUpdate        = "update"
	errorCodeUpdateStatus  = "update_status"
	errorCodeUpdateDetails = "update_details"
)

// Store implements reserve.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Food{},
		&DailyMenu{},
		&DailyMenuItem{},
		&TimeSlot{},
		&Reservation{},
		&Payment{},
		&AuditRecord{},
	)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore reserve.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetUser(ctx context.Context, userID int64) (reserve.User, error) {
	var model User
	err := store.db.WithContext(ctx).Take(&model, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reserve.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, reserve.ErrUnknownUser)
		}
		return reserve.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return reserve.User{
		ID:          model.ID,
		PhoneNumber: model.PhoneNumber,
		FirstName:   model.FirstName,
		LastName:    model.LastName,
		Role:        model.Role,
		TrustScore:  model.TrustScore,
	}, nil
}

func (store *Store) AdjustTrustScore(ctx context.Context, userID int64, delta int, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"trust_score": gorm.Expr("trust_score + ?", delta),
			"updated_at":  at,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, reserve.ErrUnknownUser)
	}
	return nil
}

func (store *Store) GetFood(ctx context.Context, foodID int64) (reserve.Food, error) {
	var model Food
	err := store.db.WithContext(ctx).Take(&model, foodID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reserve.Food{}, wrapStoreError(errorSubjectFood, errorCodeGet, reserve.ErrUnknownFood)
		}
		return reserve.Food{}, wrapStoreError(errorSubjectFood, errorCodeGet, err)
	}
	return reserve.Food{
		ID:                   model.ID,
		Name:                 model.Name,
		Price:                model.Price,
		SupportsExtraVoucher: model.SupportsExtraVoucher,
	}, nil
}

func (store *Store) GetSlotForUpdate(ctx context.Context, slotID int64) (reserve.TimeSlot, error) {
	var model TimeSlot
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&model, slotID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reserve.TimeSlot{}, wrapStoreError(errorSubjectSlot, errorCodeGet, reserve.ErrUnknownSlot)
		}
		return reserve.TimeSlot{}, wrapStoreError(errorSubjectSlot, errorCodeGet, err)
	}
	return reserve.TimeSlot{
		ID:          model.ID,
		MenuItemID:  model.MenuItemID,
		StartTime:   model.StartTime,
		EndTime:     model.EndTime,
		Capacity:    model.Capacity,
		IsAvailable: model.IsAvailable,
	}, nil
}

func (store *Store) GetMenuItemForUpdate(ctx context.Context, menuItemID int64) (reserve.MenuItem, error) {
	var model DailyMenuItem
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&model, menuItemID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reserve.MenuItem{}, wrapStoreError(errorSubjectItem, errorCodeGet, reserve.ErrUnknownMenuItem)
		}
		return reserve.MenuItem{}, wrapStoreError(errorSubjectItem, errorCodeGet, err)
	}
	return reserve.MenuItem{
		ID:            model.ID,
		DailyMenuID:   model.DailyMenuID,
		FoodID:        model.FoodID,
		DailyCapacity: model.DailyCapacity,
		IsAvailable:   model.IsAvailable,
		Disabled:      model.Disabled,
	}, nil
}

func (store *Store) SetSlotCapacity(ctx context.Context, slotID int64, capacity int, available bool) error {
	result := store.db.WithContext(ctx).
		Model(&TimeSlot{}).
		Where("id = ?", slotID).
		Updates(map[string]interface{}{"capacity": capacity, "is_available": available})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSlot, errorCodeUpdate, reserve.ErrUnknownSlot)
	}
	return nil
}

func (store *Store) SetMenuItemCapacity(ctx context.Context, menuItemID int64, capacity int, available bool) error {
	result := store.db.WithContext(ctx).
		Model(&DailyMenuItem{}).
		Where("id = ?", menuItemID).
		Updates(map[string]interface{}{"daily_capacity": capacity, "is_available": available})
	if result.Error != nil {
		return wrapStoreError(errorSubjectItem, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectItem, errorCodeUpdate, reserve.ErrUnknownMenuItem)
	}
	return nil
}

// LockDailyMenu takes the menu row lock that serializes reservation numbering
// for one meal on one date, creating the row when it does not exist yet.
func (store *Store) LockDailyMenu(ctx context.Context, date time.Time, meal reserve.MealType) error {
	day := dateOnly(date)
	var model DailyMenu
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("date = ? AND meal_type = ?", day, meal.String()).
		Take(&model).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(errorSubjectMenu, errorCodeLock, err)
	}
	model = DailyMenu{Date: day, MealType: meal.String(), CreatedAt: time.Now().UTC()}
	createErr := store.db.WithContext(ctx).Create(&model).Error
	if createErr != nil && !isUniqueViolation(createErr) {
		return wrapStoreError(errorSubjectMenu, errorCodeCreate, createErr)
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("date = ? AND meal_type = ?", day, meal.String()).
		Take(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectMenu, errorCodeLock, err)
	}
	return nil
}

func (store *Store) MaxReservationNumber(ctx context.Context, date time.Time, meal reserve.MealType) (int, error) {
	var sum sqlMax
	err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Select("coalesce(max(reservation_number),0) as highest").
		Where("reserved_date = ? AND meal_type = ?", dateOnly(date), meal.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectRes, errorCodeMaxNumber, err)
	}
	return sum.Highest, nil
}

func (store *Store) CreateReservation(ctx context.Context, reservation *reserve.Reservation) error {
	model := reservationModel(*reservation)
	err := store.db.WithContext(ctx).Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectRes, errorCodeCreate, err)
	}
	reservation.ID = model.ID
	return nil
}

func (store *Store) GetReservation(ctx context.Context, reservationID int64) (reserve.Reservation, error) {
	return store.getReservation(ctx, reservationID, false)
}

func (store *Store) GetReservationForUpdate(ctx context.Context, reservationID int64) (reserve.Reservation, error) {
	return store.getReservation(ctx, reservationID, true)
}

func (store *Store) getReservation(ctx context.Context, reservationID int64, forUpdate bool) (reserve.Reservation, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Reservation
	err := query.Take(&model, reservationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reserve.Reservation{}, wrapStoreError(errorSubjectRes, errorCodeGet, reserve.ErrUnknownReservation)
		}
		return reserve.Reservation{}, wrapStoreError(errorSubjectRes, errorCodeGet, err)
	}
	return mapReservation(model)
}

func (store *Store) UpdateReservationStatus(ctx context.Context, reservationID int64, from, to reserve.ReservationStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("id = ? AND status = ?", reservationID, from.String()).
		Updates(map[string]interface{}{"status": to.String(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRes, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRes, errorCodeUpdateStatus, reserve.ErrInvalidTransition)
	}
	return nil
}

func (store *Store) SetReservationImpact(ctx context.Context, reservationID int64, impact int) error {
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("id = ?", reservationID).
		Update("trust_score_impact", impact)
	if result.Error != nil {
		return wrapStoreError(errorSubjectRes, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRes, errorCodeUpdate, reserve.ErrUnknownReservation)
	}
	return nil
}

func (store *Store) FindReservationByDeliveryCode(ctx context.Context, deliveryCode string, date time.Time) (reserve.Reservation, error) {
	var model Reservation
	err := store.db.WithContext(ctx).
		Where("delivery_code = ? AND reserved_date = ?", deliveryCode, dateOnly(date)).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reserve.Reservation{}, wrapStoreError(errorSubjectRes, errorCodeGet, reserve.ErrUnknownReservation)
		}
		return reserve.Reservation{}, wrapStoreError(errorSubjectRes, errorCodeGet, err)
	}
	return mapReservation(model)
}

func (store *Store) ListUserReservations(ctx context.Context, userID int64) ([]reserve.Reservation, error) {
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRes, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) ListReservationsForMeal(ctx context.Context, date time.Time, meal reserve.MealType) ([]reserve.Reservation, error) {
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where("reserved_date = ? AND meal_type = ?", dateOnly(date), meal.String()).
		Order("reservation_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRes, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) ListExpiredPendingPayment(ctx context.Context, cutoff time.Time) ([]reserve.Reservation, error) {
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", reserve.ReservationPendingPayment.String(), cutoff).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRes, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) CreatePayment(ctx context.Context, payment *reserve.Payment) error {
	model, err := paymentModel(*payment)
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, reserve.ErrPaymentPending)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	payment.ID = model.ID
	return nil
}

func (store *Store) GetPayment(ctx context.Context, paymentID string) (reserve.Payment, error) {
	return store.getPayment(ctx, paymentID, false)
}

func (store *Store) GetPaymentForUpdate(ctx context.Context, paymentID string) (reserve.Payment, error) {
	return store.getPayment(ctx, paymentID, true)
}

func (store *Store) getPayment(ctx context.Context, paymentID string, forUpdate bool) (reserve.Payment, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Payment
	err := query.Where("id = ?", paymentID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reserve.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, reserve.ErrUnknownPayment)
		}
		return reserve.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	return mapPayment(model)
}

func (store *Store) GetPaymentByAuthority(ctx context.Context, authority string) (reserve.Payment, error) {
	var model Payment
	err := store.db.WithContext(ctx).
		Where("authority = ?", authority).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reserve.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, reserve.ErrUnknownPayment)
		}
		return reserve.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	return mapPayment(model)
}

func (store *Store) HasPendingPayment(ctx context.Context, reservationID int64) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Payment{}).
		Where("reservation_id = ? AND status = ?", reservationID, reserve.PaymentPending.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	return count > 0, nil
}

func (store *Store) UpdatePaymentStatus(ctx context.Context, paymentID string, from, to reserve.PaymentStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Payment{}).
		Where("id = ? AND status = ?", paymentID, from.String()).
		Updates(map[string]interface{}{"status": to.String(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, reserve.ErrPaymentClosed)
	}
	return nil
}

func (store *Store) SetPaymentRefID(ctx context.Context, paymentID string, refID string) error {
	result := store.db.WithContext(ctx).
		Model(&Payment{}).
		Where("id = ?", paymentID).
		Update("ref_id", refID)
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdate, reserve.ErrUnknownPayment)
	}
	return nil
}

func (store *Store) UpdateFailureDetails(ctx context.Context, paymentID string, details *reserve.FailureDetails) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Payment{}).
		Where("id = ?", paymentID).
		Update("failure_details", datatypes.JSON(raw))
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateDetails, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateDetails, reserve.ErrUnknownPayment)
	}
	return nil
}

// ListFailedCandidates returns failed, not yet reversed payments last touched
// at or before the cutoff. The reversed flag lives inside the JSON document,
// so the filter happens here after decoding.
func (store *Store) ListFailedCandidates(ctx context.Context, cutoff time.Time) ([]reserve.Payment, error) {
	var rows []Payment
	err := store.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", reserve.PaymentFailed.String(), cutoff).
		Order("updated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	out := make([]reserve.Payment, 0, len(rows))
	for _, row := range rows {
		payment, err := mapPayment(row)
		if err != nil {
			return nil, err
		}
		if payment.FailureDetails != nil && payment.FailureDetails.Reversed {
			continue
		}
		out = append(out, payment)
	}
	return out, nil
}

func (store *Store) ListPendingCandidates(ctx context.Context, cutoff time.Time) ([]reserve.Payment, error) {
	var rows []Payment
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at >= ?", reserve.PaymentPending.String(), cutoff).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	return mapPayments(rows)
}

func (store *Store) ListPayments(ctx context.Context, filter reserve.PaymentFilter) ([]reserve.Payment, int64, error) {
	query := store.db.WithContext(ctx).Model(&Payment{})
	if filter.UserID > 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status.String())
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var rows []Payment
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	payments, err := mapPayments(rows)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// ListMenu returns the browseable items and slots for one meal on one date.
// Disabled items are omitted; sold-out items are included so clients can show
// them as unavailable.
func (store *Store) ListMenu(ctx context.Context, date time.Time, meal reserve.MealType) ([]reserve.MenuListing, error) {
	var menu DailyMenu
	err := store.db.WithContext(ctx).
		Where("date = ? AND meal_type = ?", dateOnly(date), meal.String()).
		Take(&menu).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStoreError(errorSubjectMenu, errorCodeList, err)
	}
	var items []DailyMenuItem
	err = store.db.WithContext(ctx).
		Where("daily_menu_id = ? AND disabled = ?", menu.ID, false).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectItem, errorCodeList, err)
	}
	listings := make([]reserve.MenuListing, 0, len(items))
	for _, item := range items {
		var food Food
		if err := store.db.WithContext(ctx).Take(&food, item.FoodID).Error; err != nil {
			return nil, wrapStoreError(errorSubjectFood, errorCodeList, err)
		}
		var slots []TimeSlot
		err := store.db.WithContext(ctx).
			Where("menu_item_id = ?", item.ID).
			Order("start_time ASC").
			Find(&slots).Error
		if err != nil {
			return nil, wrapStoreError(errorSubjectSlot, errorCodeList, err)
		}
		listing := reserve.MenuListing{
			MenuItem: reserve.MenuItem{
				ID:            item.ID,
				DailyMenuID:   item.DailyMenuID,
				FoodID:        item.FoodID,
				DailyCapacity: item.DailyCapacity,
				IsAvailable:   item.IsAvailable,
				Disabled:      item.Disabled,
			},
			Food: reserve.Food{
				ID:                   food.ID,
				Name:                 food.Name,
				Price:                food.Price,
				SupportsExtraVoucher: food.SupportsExtraVoucher,
			},
		}
		for _, slot := range slots {
			listing.Slots = append(listing.Slots, reserve.TimeSlot{
				ID:          slot.ID,
				MenuItemID:  slot.MenuItemID,
				StartTime:   slot.StartTime,
				EndTime:     slot.EndTime,
				Capacity:    slot.Capacity,
				IsAvailable: slot.IsAvailable,
			})
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

func (store *Store) CreateAuditRecord(ctx context.Context, record reserve.AuditRecord) error {
	model := AuditRecord{
		ID:        record.ID,
		UserID:    record.UserID,
		Action:    record.Action,
		Details:   record.Details,
		CreatedAt: record.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAudit, errorCodeCreate, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return reserve.WrapError(errorOperationStore, subject, code, err)
}

type sqlMax struct {
	Highest int
}

func dateOnly(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

func reservationModel(reservation reserve.Reservation) Reservation {
	return Reservation{
		ID:                reservation.ID,
		UserID:            reservation.UserID,
		FoodID:            reservation.FoodID,
		SlotID:            reservation.SlotID,
		MealType:          reservation.MealType.String(),
		ReservedDate:      dateOnly(reservation.ReservedDate),
		HasVoucher:        reservation.HasVoucher,
		HasExtraVoucher:   reservation.HasExtraVoucher,
		Price:             reservation.Price,
		OriginalPrice:     reservation.OriginalPrice,
		TrustScoreImpact:  reservation.TrustScoreImpact,
		Status:            reservation.Status.String(),
		ReservationNumber: reservation.ReservationNumber,
		DeliveryCode:      reservation.DeliveryCode,
		CreatedAt:         reservation.CreatedAt,
		UpdatedAt:         reservation.UpdatedAt,
	}
}

func mapReservation(model Reservation) (reserve.Reservation, error) {
	meal, err := reserve.ParseMealType(model.MealType)
	if err != nil {
		return reserve.Reservation{}, wrapStoreError(errorSubjectRes, errorCodeInvalid, err)
	}
	status, err := reserve.ParseReservationStatus(model.Status)
	if err != nil {
		return reserve.Reservation{}, wrapStoreError(errorSubjectRes, errorCodeInvalid, err)
	}
	return reserve.Reservation{
		ID:                model.ID,
		UserID:            model.UserID,
		FoodID:            model.FoodID,
		SlotID:            model.SlotID,
		MealType:          meal,
		ReservedDate:      model.ReservedDate,
		HasVoucher:        model.HasVoucher,
		HasExtraVoucher:   model.HasExtraVoucher,
		Price:             model.Price,
		OriginalPrice:     model.OriginalPrice,
		TrustScoreImpact:  model.TrustScoreImpact,
		Status:            status,
		ReservationNumber: model.ReservationNumber,
		DeliveryCode:      model.DeliveryCode,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
	}, nil
}

func mapReservations(rows []Reservation) ([]reserve.Reservation, error) {
	out := make([]reserve.Reservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := mapReservation(row)
		if err != nil {
			return nil, err
		}
		out = append(out, reservation)
	}
	return out, nil
}

func paymentModel(payment reserve.Payment) (Payment, error) {
	model := Payment{
		ID:            payment.ID,
		UserID:        payment.UserID,
		ReservationID: payment.ReservationID,
		Amount:        payment.Amount,
		Authority:     payment.Authority,
		RefID:         payment.RefID,
		Status:        payment.Status.String(),
		CreatedAt:     payment.CreatedAt,
		UpdatedAt:     payment.UpdatedAt,
	}
	if payment.FailureDetails != nil {
		raw, err := json.Marshal(payment.FailureDetails)
		if err != nil {
			return Payment{}, err
		}
		model.FailureDetails = datatypes.JSON(raw)
	}
	return model, nil
}

func mapPayment(model Payment) (reserve.Payment, error) {
	status, err := reserve.ParsePaymentStatus(model.Status)
	if err != nil {
		return reserve.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	var details *reserve.FailureDetails
	if len(model.FailureDetails) > 0 {
		decoded := reserve.FailureDetails{}
		if err := json.Unmarshal(model.FailureDetails, &decoded); err != nil {
			return reserve.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
		}
		details = &decoded
	}
	return reserve.Payment{
		ID:             model.ID,
		UserID:         model.UserID,
		ReservationID:  model.ReservationID,
		Amount:         model.Amount,
		Authority:      model.Authority,
		RefID:          model.RefID,
		Status:         status,
		FailureDetails: details,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}, nil
}

func mapPayments(rows []Payment) ([]reserve.Payment, error) {
	out := make([]reserve.Payment, 0, len(rows))
	for _, row := range rows {
		payment, err := mapPayment(row)
		if err != nil {
			return nil, err
		}
		out = append(out, payment)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgError *pgconn.PgError
	if errors.As(err, &pgError) && pgError.Code == pgUniqueViolationCode {
		return true
	}
	var sqliteError *gosqlite.Error
	if errors.As(err, &sqliteError) {
		return sqliteError.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
