package orders

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/internal/shared/sanitize"
)

var transitions = map[Status][]Status{
	StatusConfirmed:  {StatusProcessing, StatusDispatched, StatusCancelled},
	StatusProcessing: {StatusDispatched, StatusCancelled},
	StatusDispatched: {StatusDelivered},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func canMove(from, to Status) bool {
	for _, n := range transitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Refundable is true until the order leaves the pharmacy.
func (o Order) Refundable() bool {
	return o.Status == StatusConfirmed || o.Status == StatusProcessing
}

// Tracking is the courier hand-off captured at dispatch.
type Tracking struct {
	Number  string `json:"tracking_number" binding:"max=64"`
	Courier string `json:"courier" binding:"max=64"`
}

// FulfillmentService moves orders along the shipping path and mirrors each
// step onto the owning prescription. Mirroring only ever moves the
// prescription forward.
type FulfillmentService struct {
	db     *gorm.DB
	repo   *Repo
	notify notify.Sender
	logger *slog.Logger
}

func NewFulfillmentService(db *gorm.DB, n notify.Sender) *FulfillmentService {
	return &FulfillmentService{db: db, repo: NewRepo(db), notify: n, logger: slog.Default()}
}

func (s *FulfillmentService) SetLogger(logger *slog.Logger) { s.logger = logger }

// Get lets the owner or any staff member read an order.
func (s *FulfillmentService) Get(ctx context.Context, actor authz.Actor, id uint64) (Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := authz.RequireOwnerOr(actor, o.CustomerID, authz.Staff...); err != nil {
		return Order{}, err
	}
	return o, nil
}

// List returns the actor's own orders, or every order for staff.
func (s *FulfillmentService) List(ctx context.Context, actor authz.Actor, in ListParams) (ListResult, error) {
	if err := authz.Require(actor, authz.Anyone...); err != nil {
		return ListResult{}, err
	}
	if !actor.Is(authz.Staff...) {
		in.CustomerID = actor.ID
	}
	return s.repo.List(ctx, in)
}

// Ledger lists the money movements behind an order. Staff only.
func (s *FulfillmentService) Ledger(ctx context.Context, actor authz.Actor, orderID uint64) ([]FinancialEntry, error) {
	if err := authz.Require(actor, authz.Staff...); err != nil {
		return nil, err
	}
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.repo.Ledger(ctx, o.PrescriptionID)
}

func (s *FulfillmentService) MarkProcessing(ctx context.Context, actor authz.Actor, orderID uint64) (Order, error) {
	return s.apply(ctx, actor, orderID, step{action: "order_processing", to: StatusProcessing})
}

// Dispatch hands the order to the courier. The prescription follows to
// dispatched with the same tracking details.
func (s *FulfillmentService) Dispatch(ctx context.Context, actor authz.Actor, orderID uint64, t Tracking) (Order, error) {
	now := time.Now()
	set := map[string]any{"dispatched_at": now}
	if n := sanitize.Line(t.Number); n != "" {
		set["tracking_number"] = n
	}
	if c := sanitize.Line(t.Courier); c != "" {
		set["courier_name"] = c
	}

	o, err := s.apply(ctx, actor, orderID, step{
		action: "dispatch",
		to:     StatusDispatched,
		set:    set,
		mirror: prescriptions.StatusDispatched,
	})
	if err != nil {
		return Order{}, err
	}

	s.notify.NotifyCustomer(ctx, o.CustomerID, notify.TemplateOrderDispatched, map[string]any{
		"order_number":    o.OrderNumber,
		"courier":         deref(o.CourierName),
		"tracking_number": deref(o.TrackingNumber),
	})
	return o, nil
}

func (s *FulfillmentService) Deliver(ctx context.Context, actor authz.Actor, orderID uint64) (Order, error) {
	o, err := s.apply(ctx, actor, orderID, step{
		action: "deliver",
		to:     StatusDelivered,
		set:    map[string]any{"delivered_at": time.Now()},
		mirror: prescriptions.StatusDelivered,
	})
	if err != nil {
		return Order{}, err
	}

	s.notify.NotifyCustomer(ctx, o.CustomerID, notify.TemplateOrderDelivered, map[string]any{
		"order_number": o.OrderNumber,
	})
	return o, nil
}

type step struct {
	action string
	to     Status
	set    map[string]any
	mirror prescriptions.Status // empty leaves the prescription alone
}

func (s *FulfillmentService) apply(ctx context.Context, actor authz.Actor, orderID uint64, st step) (Order, error) {
	if err := authz.Require(actor, authz.Shipping...); err != nil {
		return Order{}, err
	}

	var o Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		// Lock order: order row first, then the prescription.
		if o, err = LockForUpdate(ctx, tx, orderID); err != nil {
			return err
		}
		if err := Move(ctx, tx, &o, st.to, st.set); err != nil {
			return err
		}
		if st.mirror == "" {
			return nil
		}

		p, err := prescriptions.LockForUpdate(ctx, tx, o.PrescriptionID)
		if err != nil {
			return err
		}
		if p.Status.AtOrBeyond(st.mirror) {
			s.logger.InfoContext(ctx, "prescription already ahead of order",
				"prescription_id", p.ID, "status", p.Status, "target", st.mirror)
			return nil
		}
		return prescriptions.Transition(ctx, tx, &p, prescriptions.Change{
			To:     st.mirror,
			Actor:  actor,
			Action: st.action,
			Note:   "order " + o.OrderNumber,
			Set:    mirrored(st.set),
		})
	})
	if err != nil {
		return Order{}, err
	}

	s.logger.InfoContext(ctx, "order status changed",
		"order_id", o.ID, "order_number", o.OrderNumber, "status", o.Status, "actor_id", actor.ID)
	return o, nil
}

// Move validates and writes one order status change inside tx. o must be
// locked by the caller and is updated in place.
func Move(ctx context.Context, tx *gorm.DB, o *Order, to Status, set map[string]any) error {
	from := o.Status
	if !canMove(from, to) {
		return NewStateError("move to "+string(to), from)
	}

	now := time.Now()
	updates := map[string]any{"status": to, "updated_at": now}
	for k, v := range set {
		updates[k] = v
	}
	if to == StatusCancelled {
		updates["cancelled_at"] = now
	}

	res := tx.WithContext(ctx).Model(&Order{}).
		Where("id = ? AND status = ?", o.ID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	fresh, err := get(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	*o = fresh
	return nil
}

// mirrored keeps the columns the prescription shares with its order.
func mirrored(set map[string]any) map[string]any {
	out := map[string]any{}
	for _, k := range []string{"tracking_number", "courier_name", "dispatched_at", "delivered_at"} {
		if v, ok := set[k]; ok {
			out[k] = v
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
