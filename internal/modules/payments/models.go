package payments

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusInitiated  = "initiated"
	StatusPending    = "pending"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusSuperseded = "superseded"
)

// PaymentIntent is the local reference to a processor intent. At most one
// row per prescription is initiated at a time: the live intent.
type PaymentIntent struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	PrescriptionID uint64    `gorm:"not null;index:ix_payment_intents_prescription"`
	Provider       string    `gorm:"type:varchar(64);not null"`
	ProviderRef    string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_payment_intents_provider_ref"`
	Status         string    `gorm:"type:varchar(32);not null"`
	AmountMinor    int64     `gorm:"not null"`
	Currency       string    `gorm:"type:char(3);not null"`
	RedirectURL    *string   `gorm:"type:varchar(512)"`
	ClientSecret   *string   `gorm:"type:varchar(255)"`
	IdempotencyKey string    `gorm:"type:varchar(64);not null"`
	ErrorMessage   *string   `gorm:"type:varchar(255)"`
	ExpiresAt      time.Time `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (PaymentIntent) TableName() string { return "payment_intents" }

// ProviderEvent is the webhook inbox. (provider, event_id) is unique so a
// redelivered event is recognised.
type ProviderEvent struct {
	ID          string         `gorm:"type:char(36);primaryKey"`
	Provider    string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_provider_events_provider_event,priority:1"`
	EventID     string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_provider_events_provider_event,priority:2"`
	EventType   string         `gorm:"type:varchar(64);not null"`
	PayloadJSON datatypes.JSON `gorm:"type:json;not null"`

	ReceivedAt   time.Time `gorm:"not null"`
	ProcessedAt  *time.Time
	ProcessError *string `gorm:"type:varchar(255)"`
}

func (ProviderEvent) TableName() string { return "provider_events" }
