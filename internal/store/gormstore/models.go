package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User mirrors the users table. Account management lives in another system;
// this table carries the columns the engine reads and the trust score it owns.
type User struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	PhoneNumber string    `gorm:"not null;uniqueIndex"`
	FirstName   string    `gorm:""`
	LastName    string    `gorm:""`
	Role        string    `gorm:"not null;default:student"`
	TrustScore  int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Food mirrors the foods table.
type Food struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement"`
	Name                 string    `gorm:"not null"`
	Price                int64     `gorm:"not null"`
	SupportsExtraVoucher bool      `gorm:"not null;default:false"`
	CreatedAt            time.Time `gorm:"not null"`
}

func (Food) TableName() string { return "foods" }

// DailyMenu mirrors the daily_menus table. One row exists per meal per date;
// the row doubles as the lock target that serializes sequence assignment.
type DailyMenu struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Date      time.Time `gorm:"type:date;not null;index:idx_daily_menus_date_meal,unique,priority:1"`
	MealType  string    `gorm:"not null;index:idx_daily_menus_date_meal,unique,priority:2"`
	CreatedAt time.Time `gorm:"not null"`
}

func (DailyMenu) TableName() string { return "daily_menus" }

// DailyMenuItem mirrors the daily_menu_items table.
type DailyMenuItem struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	DailyMenuID   int64     `gorm:"not null;index"`
	FoodID        int64     `gorm:"not null;index"`
	DailyCapacity int       `gorm:"not null"`
	IsAvailable   bool      `gorm:"not null;default:true"`
	Disabled      bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (DailyMenuItem) TableName() string { return "daily_menu_items" }

// TimeSlot mirrors the time_slots table.
type TimeSlot struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	MenuItemID  int64     `gorm:"not null;index"`
	StartTime   string    `gorm:"not null"`
	EndTime     string    `gorm:"not null"`
	Capacity    int       `gorm:"not null"`
	IsAvailable bool      `gorm:"not null;default:true"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (TimeSlot) TableName() string { return "time_slots" }

// Reservation mirrors the reservations table.
type Reservation struct {
	ID                int64     `gorm:"primaryKey;autoIncrement"`
	UserID            int64     `gorm:"not null;index:idx_reservations_user_created,priority:1"`
	FoodID            int64     `gorm:"not null"`
	SlotID            int64     `gorm:"not null;index"`
	MealType          string    `gorm:"not null;index:idx_reservations_meal_date,priority:1"`
	ReservedDate      time.Time `gorm:"type:date;not null;index:idx_reservations_meal_date,priority:2"`
	HasVoucher        bool      `gorm:"not null;default:false"`
	HasExtraVoucher   bool      `gorm:"not null;default:false"`
	Price             int64     `gorm:"not null"`
	OriginalPrice     int64     `gorm:"not null"`
	TrustScoreImpact  int       `gorm:"not null;default:0"`
	Status            string    `gorm:"not null;index"`
	ReservationNumber int       `gorm:"not null"`
	DeliveryCode      string    `gorm:"not null;index"`
	CreatedAt         time.Time `gorm:"not null;index:idx_reservations_user_created,priority:2"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

// Payment mirrors the payments table. FailureDetails is a JSON document that
// accumulates reconciliation bookkeeping.
type Payment struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	UserID         int64          `gorm:"not null;index:idx_payments_user_created,priority:1"`
	ReservationID  *int64         `gorm:"index"`
	Amount         int64          `gorm:"not null"`
	Authority      string         `gorm:"not null;uniqueIndex"`
	RefID          string         `gorm:""`
	Status         string         `gorm:"not null;index:idx_payments_status_updated,priority:1"`
	FailureDetails datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_payments_user_created,priority:2"`
	UpdatedAt      time.Time      `gorm:"not null;index:idx_payments_status_updated,priority:2"`
}

func (Payment) TableName() string { return "payments" }

func (payment *Payment) BeforeCreate(tx *gorm.DB) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	return nil
}

// AuditRecord mirrors the audit_records table.
type AuditRecord struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	UserID    *int64    `gorm:"index"`
	Action    string    `gorm:"not null;index"`
	Details   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
}

func (AuditRecord) TableName() string { return "audit_records" }

func (record *AuditRecord) BeforeCreate(tx *gorm.DB) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	return nil
}
