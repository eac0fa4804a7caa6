package orders

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"globlept.co.uk/app/internal/modules/prescriptions"
)

type Status string

const (
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusDispatched Status = "dispatched"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Order is the fulfilment record created once per paid prescription. The
// commercial fields are a snapshot taken at payment time and are never
// rewritten from the prescription afterwards.
type Order struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	OrderNumber    string `gorm:"type:varchar(40);not null;uniqueIndex:ux_orders_order_number"`
	PrescriptionID uint64 `gorm:"not null;uniqueIndex:ux_orders_prescription"`
	CustomerID     uint64 `gorm:"not null;index:ix_orders_customer"`

	TotalAmount       decimal.Decimal                           `gorm:"type:decimal(10,2);not null"`
	Currency          string                                    `gorm:"type:char(3);not null"`
	DeliveryAddress   datatypes.JSONType[prescriptions.Address] `gorm:"type:json;not null"`
	EstimatedDelivery time.Time                                 `gorm:"not null"`

	PaymentIntentID  *string `gorm:"type:varchar(128)"`
	ChargeID         *string `gorm:"type:varchar(128)"`
	PaymentReference *string `gorm:"type:varchar(128)"`
	PaidAt           time.Time

	Status         Status  `gorm:"type:varchar(32);not null;index:ix_orders_status"`
	TrackingNumber *string `gorm:"type:varchar(64)"`
	CourierName    *string `gorm:"type:varchar(64)"`
	DispatchedAt   *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Order) TableName() string { return "orders" }

// FinancialEntry is the money ledger. Positive amounts are money in.
type FinancialEntry struct {
	ID             string          `gorm:"type:char(36);primaryKey"`
	PrescriptionID uint64          `gorm:"not null;index:ix_financial_entries_prescription"`
	OrderID        *uint64         `gorm:"index:ix_financial_entries_order"`
	Event          string          `gorm:"type:varchar(32);not null;uniqueIndex:ux_financial_entries_ref,priority:3"`
	Amount         decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Currency       string          `gorm:"type:char(3);not null"`
	RefType        string          `gorm:"type:varchar(32);not null;uniqueIndex:ux_financial_entries_ref,priority:1"`
	RefID          string          `gorm:"type:varchar(128);not null;uniqueIndex:ux_financial_entries_ref,priority:2"`
	CreatedAt      time.Time
}

func (FinancialEntry) TableName() string { return "financial_entries" }

const (
	LedgerPaymentSucceeded = "payment_succeeded"
	LedgerRefundSucceeded  = "refund_succeeded"
)
