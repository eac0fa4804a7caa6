package payments

import "time"

// Refund records the single full refund an order may receive.
type Refund struct {
	ID             string `gorm:"type:char(36);primaryKey"`
	OrderID        uint64 `gorm:"not null;uniqueIndex:ux_refunds_order"`
	PrescriptionID uint64 `gorm:"not null;index:ix_refunds_prescription"`

	Provider    string  `gorm:"type:varchar(64);not null"`
	IntentRef   string  `gorm:"type:varchar(128);not null"`
	ProviderRef *string `gorm:"type:varchar(128);index:ix_refunds_provider_ref"`

	Status         string `gorm:"type:varchar(32);not null"`
	AmountMinor    int64  `gorm:"not null"`
	Currency       string `gorm:"type:char(3);not null"`
	IdempotencyKey string `gorm:"type:varchar(64);not null"`

	Reason       *string `gorm:"type:varchar(255)"`
	ErrorMessage *string `gorm:"type:varchar(255)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Refund) TableName() string { return "refunds" }
