package view

import (
	"globlept.co.uk/app/internal/modules/prescriptions"
)

type Prescription struct {
	ID              uint64                   `json:"id"`
	CustomerID      uint64                   `json:"customer_id"`
	Status          string                   `json:"status"`
	PaymentStatus   string                   `json:"payment_status"`
	Payable         bool                     `json:"payable"`
	Price           *Money                   `json:"price"`
	Medicines       []prescriptions.Medicine `json:"medicines"`
	Quantity        int                      `json:"quantity"`
	Dosage          string                   `json:"dosage,omitempty"`
	Instructions    string                   `json:"instructions,omitempty"`
	Documents       []string                 `json:"documents"`
	DeliveryAddress prescriptions.Address    `json:"delivery_address"`
	RejectedReason  *string                  `json:"rejected_reason,omitempty"`
	StaffAssigneeID *uint64                  `json:"staff_assignee_id,omitempty"`
	ApprovedBy      *uint64                  `json:"approved_by,omitempty"`
	ApprovedAt      *string                  `json:"approved_at,omitempty"`
	PaidAt          *string                  `json:"paid_at,omitempty"`
	TrackingNumber  *string                  `json:"tracking_number,omitempty"`
	CourierName     *string                  `json:"courier_name,omitempty"`
	DispatchedAt    *string                  `json:"dispatched_at,omitempty"`
	DeliveredAt     *string                  `json:"delivered_at,omitempty"`
	AllowedNext     []string                 `json:"allowed_transitions"`
	CreatedAt       string                   `json:"created_at"`
	UpdatedAt       string                   `json:"updated_at"`
}

// NewPrescription maps the record; docURL resolves stored document keys.
func NewPrescription(p prescriptions.Prescription, docURL func(string) string) Prescription {
	out := Prescription{
		ID:              p.ID,
		CustomerID:      p.CustomerID,
		Status:          string(p.Status),
		PaymentStatus:   string(p.PaymentStatus),
		Payable:         p.Payable(),
		Medicines:       p.Medicines,
		Quantity:        p.Quantity,
		Dosage:          p.Dosage,
		Instructions:    p.Instructions,
		Documents:       make([]string, 0, len(p.Documents)),
		DeliveryAddress: p.DeliveryAddress.Data(),
		RejectedReason:  p.RejectedReason,
		StaffAssigneeID: p.StaffAssigneeID,
		ApprovedBy:      p.ApprovedBy,
		ApprovedAt:      timePtr(p.ApprovedAt),
		PaidAt:          timePtr(p.PaidAt),
		TrackingNumber:  p.TrackingNumber,
		CourierName:     p.CourierName,
		DispatchedAt:    timePtr(p.DispatchedAt),
		DeliveredAt:     timePtr(p.DeliveredAt),
		AllowedNext:     []string{},
		CreatedAt:       stamp(p.CreatedAt),
		UpdatedAt:       stamp(p.UpdatedAt),
	}
	if p.Amount.IsPositive() {
		m := NewMoney(p.Amount, p.Currency)
		out.Price = &m
	}
	for _, key := range p.Documents {
		if docURL != nil {
			key = docURL(key)
		}
		out.Documents = append(out.Documents, key)
	}
	for _, s := range prescriptions.AllowedFrom(p.Status) {
		out.AllowedNext = append(out.AllowedNext, string(s))
	}
	return out
}

type PrescriptionEvent struct {
	Action    string  `json:"action"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	ActorID   uint64  `json:"actor_id"`
	ActorRole string  `json:"actor_role"`
	Note      *string `json:"note,omitempty"`
	At        string  `json:"at"`
}

func NewPrescriptionEvents(evs []prescriptions.Event) []PrescriptionEvent {
	out := make([]PrescriptionEvent, 0, len(evs))
	for _, e := range evs {
		out = append(out, PrescriptionEvent{
			Action:    e.Action,
			From:      string(e.FromStatus),
			To:        string(e.ToStatus),
			ActorID:   e.ActorID,
			ActorRole: e.ActorRole,
			Note:      e.Note,
			At:        stamp(e.CreatedAt),
		})
	}
	return out
}
