package prescriptions

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/internal/shared/money"
	"globlept.co.uk/app/internal/shared/sanitize"
)

const maxReasonLen = 500

type staffChecker interface {
	IsStaff(tx *gorm.DB, id uint64) (bool, error)
}

// ReviewService holds the pharmacist operations: pricing, approval,
// rejection and assignment.
type ReviewService struct {
	db      *gorm.DB
	staff   staffChecker
	notify  notify.Sender
	intents IntentReleaser
	logger  *slog.Logger
}

func NewReviewService(db *gorm.DB, staff staffChecker, n notify.Sender) *ReviewService {
	return &ReviewService{db: db, staff: staff, notify: n, logger: slog.Default()}
}

func (s *ReviewService) SetLogger(logger *slog.Logger) { s.logger = logger }

func (s *ReviewService) SetIntentReleaser(r IntentReleaser) { s.intents = r }

// mutate runs fn under the prescription row lock and cancels any released
// intents at the provider after commit.
func (s *ReviewService) mutate(ctx context.Context, id uint64, fn func(tx *gorm.DB, p *Prescription) ([]string, error)) (Prescription, error) {
	var (
		p    Prescription
		refs []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, err = LockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		refs, err = fn(tx, &p)
		return err
	})
	if err != nil {
		return Prescription{}, err
	}
	if s.intents != nil && len(refs) > 0 {
		s.intents.CancelAtProvider(ctx, refs)
	}
	return p, nil
}

func (s *ReviewService) releaseIntents(ctx context.Context, tx *gorm.DB, p *Prescription) ([]string, error) {
	if s.intents == nil || p.PaymentIntentID == nil {
		return nil, nil
	}
	return s.intents.ReleaseIntents(ctx, tx, p.ID)
}

// SetPrice is legal while pending or approved and unpaid. A live payment
// intent for the old amount is retired.
func (s *ReviewService) SetPrice(ctx context.Context, actor authz.Actor, id uint64, amount decimal.Decimal) (Prescription, error) {
	if err := authz.Require(actor, authz.Staff...); err != nil {
		return Prescription{}, err
	}
	if err := money.ValidatePrice(amount); err != nil {
		return Prescription{}, invalidField("amount", err.Error())
	}

	p, err := s.mutate(ctx, id, func(tx *gorm.DB, p *Prescription) ([]string, error) {
		if p.IsPaid() || (p.Status != StatusPending && p.Status != StatusApproved) {
			return nil, NewStateError("set_price", p.Status)
		}
		refs, err := s.releaseIntents(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		return refs, Transition(ctx, tx, p, Change{
			To:     p.Status,
			Actor:  actor,
			Action: "set_price",
			Note:   p.Amount.StringFixed(2) + " -> " + amount.StringFixed(2),
			Set:    map[string]any{"amount": amount, "payment_intent_id": nil},
		})
	})
	if err != nil {
		return Prescription{}, err
	}

	s.logger.InfoContext(ctx, "prescription priced", "prescription_id", id, "amount", amount.StringFixed(2), "actor_id", actor.ID)
	if p.Status == StatusApproved {
		s.notify.NotifyCustomer(ctx, p.CustomerID, notify.TemplatePrescriptionPriced, map[string]any{
			"prescription_id": p.ID,
			"amount":          p.Amount,
			"currency":        p.Currency,
		})
	}
	return p, nil
}

// Approve moves a pending (or in-review) prescription to approved. price,
// when given, overrides the current amount.
func (s *ReviewService) Approve(ctx context.Context, actor authz.Actor, id uint64, price *decimal.Decimal) (Prescription, error) {
	if err := authz.Require(actor, authz.Staff...); err != nil {
		return Prescription{}, err
	}
	if price != nil {
		if err := money.ValidatePrice(*price); err != nil {
			return Prescription{}, invalidField("price", err.Error())
		}
	}

	p, err := s.mutate(ctx, id, func(tx *gorm.DB, p *Prescription) ([]string, error) {
		if p.Status != StatusPending && p.Status != StatusProcessing {
			return nil, NewStateError("approve", p.Status)
		}
		now := time.Now()
		set := map[string]any{"approved_by": actor.ID, "approved_at": now}
		if price != nil {
			set["amount"] = *price
		}
		return nil, Transition(ctx, tx, p, Change{To: StatusApproved, Actor: actor, Action: "approve", Set: set})
	})
	if err != nil {
		return Prescription{}, err
	}

	s.logger.InfoContext(ctx, "prescription approved", "prescription_id", id, "amount", p.Amount.StringFixed(2), "actor_id", actor.ID)
	s.notify.NotifyCustomer(ctx, p.CustomerID, notify.TemplatePrescriptionApproved, map[string]any{
		"prescription_id": p.ID,
		"amount":          p.Amount,
		"currency":        p.Currency,
		"payable":         p.Amount.IsPositive(),
	})
	return p, nil
}

// Reject is terminal. reason is shown to the customer.
func (s *ReviewService) Reject(ctx context.Context, actor authz.Actor, id uint64, reason string) (Prescription, error) {
	if err := authz.Require(actor, authz.Staff...); err != nil {
		return Prescription{}, err
	}
	reason = sanitize.Line(reason)
	if reason == "" {
		return Prescription{}, invalidField("reason", "is required")
	}
	if utf8.RuneCountInString(reason) > maxReasonLen {
		return Prescription{}, invalidField("reason", "must be at most 500 characters")
	}

	p, err := s.mutate(ctx, id, func(tx *gorm.DB, p *Prescription) ([]string, error) {
		if p.Status != StatusPending && p.Status != StatusProcessing {
			return nil, NewStateError("reject", p.Status)
		}
		return nil, Transition(ctx, tx, p, Change{
			To:     StatusRejected,
			Actor:  actor,
			Action: "reject",
			Note:   reason,
			Set:    map[string]any{"rejected_reason": reason},
		})
	})
	if err != nil {
		return Prescription{}, err
	}

	s.logger.InfoContext(ctx, "prescription rejected", "prescription_id", id, "actor_id", actor.ID)
	s.notify.NotifyCustomer(ctx, p.CustomerID, notify.TemplatePrescriptionRejected, map[string]any{
		"prescription_id": p.ID,
		"reason":          reason,
	})
	return p, nil
}

// AssignStaff is admin-only and never changes status.
func (s *ReviewService) AssignStaff(ctx context.Context, actor authz.Actor, id, staffID uint64) (Prescription, error) {
	if err := authz.Require(actor, authz.Admins...); err != nil {
		return Prescription{}, err
	}
	return s.mutate(ctx, id, func(tx *gorm.DB, p *Prescription) ([]string, error) {
		ok, err := s.staff.IsStaff(tx, staffID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrStaffNotFound
		}
		return nil, Transition(ctx, tx, p, Change{
			To:     p.Status,
			Actor:  actor,
			Action: "assign",
			Set:    map[string]any{"staff_assignee_id": staffID},
		})
	})
}

// MarkProcessing flags a pending prescription as under review.
func (s *ReviewService) MarkProcessing(ctx context.Context, actor authz.Actor, id uint64) (Prescription, error) {
	return s.move(ctx, actor, id, StatusProcessing, "mark_processing")
}

// MarkReady flags the medicine as prepared. The registry decides which
// statuses may get there.
func (s *ReviewService) MarkReady(ctx context.Context, actor authz.Actor, id uint64) (Prescription, error) {
	return s.move(ctx, actor, id, StatusReady, "mark_ready")
}

func (s *ReviewService) move(ctx context.Context, actor authz.Actor, id uint64, to Status, action string) (Prescription, error) {
	if err := authz.Require(actor, authz.Staff...); err != nil {
		return Prescription{}, err
	}
	return s.mutate(ctx, id, func(tx *gorm.DB, p *Prescription) ([]string, error) {
		if p.Status == to {
			return nil, nil
		}
		return nil, Transition(ctx, tx, p, Change{To: to, Actor: actor, Action: action})
	})
}
