package view

import (
	"globlept.co.uk/app/internal/modules/payments"
)

type PaymentIntent struct {
	PrescriptionID uint64 `json:"prescription_id"`
	IntentRef      string `json:"intent_ref"`
	ClientSecret   string `json:"client_secret,omitempty"`
	RedirectURL    string `json:"redirect_url,omitempty"`
	Amount         Money  `json:"amount"`
	ExpiresAt      string `json:"expires_at"`
	Reused         bool   `json:"reused"`
}

func NewPaymentIntent(r payments.CreateIntentResult) PaymentIntent {
	return PaymentIntent{
		PrescriptionID: r.PrescriptionID,
		IntentRef:      r.IntentRef,
		ClientSecret:   r.ClientSecret,
		RedirectURL:    r.RedirectURL,
		Amount:         NewMoney(r.Amount, r.Currency),
		ExpiresAt:      stamp(r.ExpiresAt),
		Reused:         r.Reused,
	}
}

// PaymentConfirmation answers confirm-payment. AlreadyReconciled is success.
type PaymentConfirmation struct {
	AlreadyReconciled bool         `json:"already_reconciled"`
	Prescription      Prescription `json:"prescription"`
	Order             Order        `json:"order"`
}

type Refund struct {
	RefundID   string `json:"refund_id"`
	Status     string `json:"status"`
	Amount     Money  `json:"amount"`
	Order      Order  `json:"order"`
	Idempotent bool   `json:"idempotent"`
}

func NewRefund(r payments.RefundOrderResult) Refund {
	return Refund{
		RefundID:   r.RefundID,
		Status:     r.Status,
		Amount:     NewMoney(r.Amount, r.Currency),
		Order:      NewOrder(r.Order),
		Idempotent: r.Idempotent,
	}
}
