package payments

import (
	"context"
	"net/http"
	"time"
)

// Webhook event types, normalised across processors.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventRefundSucceeded  = "refund.succeeded"
	EventRefundFailed     = "refund.failed"
)

type IntentRequest struct {
	PrescriptionID uint64
	CustomerID     uint64
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	ReturnURL      string
}

type Intent struct {
	Ref          string
	ClientSecret string
	RedirectURL  string
	ExpiresAt    time.Time // zero when the processor does not say
}

// Verification is the processor's view of an intent.
type Verification struct {
	Ref            string
	Succeeded      bool
	Status         string
	AmountMinor    int64
	Currency       string
	ChargeID       string
	PrescriptionID uint64 // from intent metadata, zero if absent
}

type RefundRequest struct {
	IntentRef      string
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	Reason         string
}

type RefundResult struct {
	Ref    string
	Status string // succeeded|pending|failed
}

type WebhookEvent struct {
	EventID string
	Type    string

	IntentRef      string
	RefundRef      string
	PrescriptionID uint64

	AmountMinor int64
	Currency    string
}

//go:generate mockgen -destination=mocks/processor_mock.go -package=mocks globlept.co.uk/app/internal/modules/payments Processor

// Processor is the external card-payment processor.
type Processor interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Verify(ctx context.Context, ref string) (Verification, error)
	CancelIntent(ctx context.Context, ref string) error
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)

	// ParseWebhook verifies the signature and normalises the event.
	ParseWebhook(headers http.Header, body []byte) (WebhookEvent, error)
}
