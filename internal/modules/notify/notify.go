// Package notify delivers best-effort messages after state has been
// committed. Nothing here ever reports failure back to a domain operation.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"globlept.co.uk/app/internal/modules/users"
)

// Template ids known to the catalogue.
const (
	TemplatePrescriptionPriced   = "prescription_priced"
	TemplatePrescriptionApproved = "prescription_approved"
	TemplatePrescriptionRejected = "prescription_rejected"
	TemplatePaymentReceipt       = "payment_receipt"
	TemplateOrderDispatched      = "order_dispatched"
	TemplateOrderDelivered       = "order_delivered"
	TemplateRefundIssued         = "refund_issued"
	TemplateStaffNewOrder        = "staff_new_order"
)

const sendTimeout = 10 * time.Second

type Recipient struct {
	UserID uint64
	Email  string
	Name   string
}

// Notifier renders templateID for one recipient and delivers it.
type Notifier interface {
	Send(ctx context.Context, templateID string, to Recipient, data map[string]any) error
}

// StaffMessage is queued for the dispensary team when an order needs work.
type StaffMessage struct {
	Kind           string    `json:"kind"`
	PrescriptionID uint64    `json:"prescription_id"`
	OrderID        uint64    `json:"order_id,omitempty"`
	OrderNumber    string    `json:"order_number,omitempty"`
	Summary        string    `json:"summary"`
	At             time.Time `json:"at"`
}

type StaffQueue interface {
	Publish(ctx context.Context, msg StaffMessage) error
}

// Sender is what domain services depend on. Its methods log and swallow
// delivery errors.
type Sender interface {
	NotifyCustomer(ctx context.Context, customerID uint64, templateID string, data map[string]any)
	NotifyStaff(ctx context.Context, msg StaffMessage)
}

type userLookup interface {
	Get(ctx context.Context, id uint64) (users.User, error)
}

// Dispatcher resolves customers to recipients and fans out to the
// notifier and staff queue.
type Dispatcher struct {
	users    userLookup
	notifier Notifier
	queue    StaffQueue
	logger   *slog.Logger
}

func NewDispatcher(u userLookup, n Notifier, q StaffQueue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{users: u, notifier: n, queue: q, logger: logger}
}

// NotifyCustomer detaches from the request context so a client hanging up
// does not cancel a receipt that is already owed.
func (d *Dispatcher) NotifyCustomer(ctx context.Context, customerID uint64, templateID string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	u, err := d.users.Get(ctx, customerID)
	if err != nil {
		d.logger.WarnContext(ctx, "notification skipped: recipient lookup failed",
			"template", templateID, "customer_id", customerID, "err", err)
		return
	}
	to := Recipient{UserID: u.ID, Email: u.Email, Name: u.Name}
	if err := d.notifier.Send(ctx, templateID, to, data); err != nil {
		d.logger.WarnContext(ctx, "notification failed",
			"template", templateID, "customer_id", customerID, "err", err)
		return
	}
	d.logger.DebugContext(ctx, "notification sent", "template", templateID, "customer_id", customerID)
}

func (d *Dispatcher) NotifyStaff(ctx context.Context, msg StaffMessage) {
	if d.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	if err := d.queue.Publish(ctx, msg); err != nil {
		d.logger.WarnContext(ctx, "staff queue publish failed",
			"kind", msg.Kind, "prescription_id", msg.PrescriptionID, "err", err)
	}
}

// Nop drops every notification.
type Nop struct{}

func (Nop) NotifyCustomer(context.Context, uint64, string, map[string]any) {}
func (Nop) NotifyStaff(context.Context, StaffMessage)                        {}

var ErrUnknownTemplate = errors.New("notify: unknown template")
