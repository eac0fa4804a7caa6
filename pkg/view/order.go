package view

import (
	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/prescriptions"
)

type Order struct {
	ID                uint64                `json:"id"`
	OrderNumber       string                `json:"order_number"`
	PrescriptionID    uint64                `json:"prescription_id"`
	CustomerID        uint64                `json:"customer_id"`
	Status            string                `json:"status"`
	Total             Money                 `json:"total"`
	DeliveryAddress   prescriptions.Address `json:"delivery_address"`
	EstimatedDelivery string                `json:"estimated_delivery"`
	PaymentReference  *string               `json:"payment_reference,omitempty"`
	PaidAt            string                `json:"paid_at"`
	TrackingNumber    *string               `json:"tracking_number,omitempty"`
	CourierName       *string               `json:"courier_name,omitempty"`
	DispatchedAt      *string               `json:"dispatched_at,omitempty"`
	DeliveredAt       *string               `json:"delivered_at,omitempty"`
	CancelledAt       *string               `json:"cancelled_at,omitempty"`
	Refundable        bool                  `json:"refundable"`
	CreatedAt         string                `json:"created_at"`
}

func NewOrder(o orders.Order) Order {
	return Order{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		PrescriptionID:    o.PrescriptionID,
		CustomerID:        o.CustomerID,
		Status:            string(o.Status),
		Total:             NewMoney(o.TotalAmount, o.Currency),
		DeliveryAddress:   o.DeliveryAddress.Data(),
		EstimatedDelivery: o.EstimatedDelivery.UTC().Format("2006-01-02"),
		PaymentReference:  o.PaymentReference,
		PaidAt:            stamp(o.PaidAt),
		TrackingNumber:    o.TrackingNumber,
		CourierName:       o.CourierName,
		DispatchedAt:      timePtr(o.DispatchedAt),
		DeliveredAt:       timePtr(o.DeliveredAt),
		CancelledAt:       timePtr(o.CancelledAt),
		Refundable:        o.Refundable(),
		CreatedAt:         stamp(o.CreatedAt),
	}
}

type LedgerEntry struct {
	Event   string `json:"event"`
	Amount  Money  `json:"amount"`
	RefType string `json:"ref_type"`
	RefID   string `json:"ref_id"`
	At      string `json:"at"`
}

func NewLedger(entries []orders.FinancialEntry) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerEntry{
			Event:   e.Event,
			Amount:  NewMoney(e.Amount, e.Currency),
			RefType: e.RefType,
			RefID:   e.RefID,
			At:      stamp(e.CreatedAt),
		})
	}
	return out
}
