package prescriptions

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type Medicine struct {
	Name     string `json:"name" binding:"required,max=200"`
	Quantity int    `json:"quantity" binding:"omitempty,min=1,max=1000"`
	Dosage   string `json:"dosage" binding:"max=200"`
}

type Address struct {
	Name     string `json:"name" binding:"required,max=120"`
	Line1    string `json:"line1" binding:"required,max=200"`
	Line2    string `json:"line2,omitempty" binding:"max=200"`
	City     string `json:"city" binding:"required,max=100"`
	Postcode string `json:"postcode" binding:"required,max=16"`
	Country  string `json:"country" binding:"required,len=2"`
	Phone    string `json:"phone,omitempty" binding:"max=32"`
}

type Prescription struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	CustomerID uint64 `gorm:"not null;index:ix_prescriptions_customer"`

	Medicines       datatypes.JSONSlice[Medicine] `gorm:"type:json;not null"`
	Quantity        int                           `gorm:"not null;default:1"`
	Dosage          string                        `gorm:"type:varchar(255);not null;default:''"`
	Instructions    string                        `gorm:"type:text"`
	Documents       datatypes.JSONSlice[string]   `gorm:"type:json"`
	DeliveryAddress datatypes.JSONType[Address]   `gorm:"type:json;not null"`

	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Currency      string          `gorm:"type:char(3);not null"`
	PaymentStatus PaymentStatus   `gorm:"type:varchar(16);not null;index:ix_prescriptions_payment_status"`

	Status          Status  `gorm:"type:varchar(32);not null;index:ix_prescriptions_status"`
	ApprovedBy      *uint64
	ApprovedAt      *time.Time
	RejectedReason  *string `gorm:"type:varchar(500)"`
	StaffAssigneeID *uint64 `gorm:"index:ix_prescriptions_assignee"`
	TrackingNumber  *string `gorm:"type:varchar(64)"`
	CourierName     *string `gorm:"type:varchar(64)"`
	DispatchedAt    *time.Time
	DeliveredAt     *time.Time
	PaidAt          *time.Time

	PaymentIntentID  *string `gorm:"type:varchar(128);index:ix_prescriptions_payment_intent"`
	ChargeID         *string `gorm:"type:varchar(128)"`
	PaymentReference *string `gorm:"type:varchar(128)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Prescription) TableName() string { return "prescriptions" }

func (p Prescription) IsPaid() bool { return p.PaymentStatus == PaymentPaid }

// AwaitingPayment is true for an approved, unpaid prescription, priced or not.
func (p Prescription) AwaitingPayment() bool {
	return p.Status == StatusApproved && p.PaymentStatus == PaymentUnpaid
}

// Payable is true when a payment intent may be opened: approved, unpaid and
// priced.
func (p Prescription) Payable() bool {
	return p.AwaitingPayment() && p.Amount.IsPositive()
}

// Event is the audit trail row written alongside every status change.
type Event struct {
	ID             string  `gorm:"type:char(36);primaryKey"`
	PrescriptionID uint64  `gorm:"not null;index:ix_prescription_events_prescription"`
	ActorID        uint64  `gorm:"not null"`
	ActorRole      string  `gorm:"type:varchar(32);not null"`
	Action         string  `gorm:"type:varchar(32);not null"`
	FromStatus     Status  `gorm:"type:varchar(32);not null"`
	ToStatus       Status  `gorm:"type:varchar(32);not null"`
	Note           *string `gorm:"type:varchar(500)"`
	CreatedAt      time.Time
}

func (Event) TableName() string { return "prescription_events" }
