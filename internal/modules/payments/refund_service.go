package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/internal/shared/money"
	"globlept.co.uk/app/internal/shared/sanitize"
)

var (
	ErrRefundDeclined = errors.New("refund declined by provider")
	// ErrRefundInProgress means another request is waiting on the processor
	// for this order's refund.
	ErrRefundInProgress = fmt.Errorf("%w: refund already in progress", orders.ErrConcurrentUpdate)
)

// RefundService issues the full refund of an order that has not left the
// pharmacy, cancelling both the order and its prescription.
type RefundService struct {
	db        *gorm.DB
	processor Processor
	notify    notify.Sender
	timeout   time.Duration
	logger    *slog.Logger
}

func NewRefundService(db *gorm.DB, p Processor, n notify.Sender, timeout time.Duration) *RefundService {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &RefundService{db: db, processor: p, notify: n, timeout: timeout, logger: slog.Default()}
}

func (s *RefundService) SetLogger(logger *slog.Logger) { s.logger = logger }

type RefundOrderResult struct {
	RefundID   string
	Status     string
	Amount     decimal.Decimal
	Currency   string
	Order      orders.Order
	Idempotent bool
}

func (s *RefundService) Refund(ctx context.Context, actor authz.Actor, orderID uint64, reason string) (RefundOrderResult, error) {
	if err := authz.Require(actor, authz.Refunds...); err != nil {
		return RefundOrderResult{}, err
	}
	reason = sanitize.Truncate(sanitize.Line(reason), 255)

	// Phase-1: lock order then prescription, create or reuse the refund row
	var (
		ord        orders.Order
		ref        Refund
		idempotent bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if ord, err = orders.LockForUpdate(ctx, tx, orderID); err != nil {
			return err
		}

		now := time.Now()
		e := tx.First(&ref, "order_id = ?", ord.ID).Error
		switch {
		case e == nil && (ref.Status == StatusSucceeded || ref.Status == StatusPending):
			idempotent = true
			return nil
		case e == nil && ref.Status == StatusInitiated && now.Sub(ref.UpdatedAt) < s.staleAfter():
			return ErrRefundInProgress
		case e != nil && !errors.Is(e, gorm.ErrRecordNotFound):
			return e
		}

		if !ord.Refundable() {
			return orders.NewStateError("refund", ord.Status)
		}
		p, err := prescriptions.LockForUpdate(ctx, tx, ord.PrescriptionID)
		if err != nil {
			return err
		}
		if !p.IsPaid() || p.PaymentReference == nil {
			return prescriptions.NewStateError("refund", p.Status)
		}

		key := "rx-refund-" + strconv.FormatUint(ord.ID, 10) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
		if e == nil {
			// A failed attempt retries under a fresh key. An abandoned one
			// repeats its key so the processor answers with the same refund.
			if ref.Status == StatusInitiated {
				key = ref.IdempotencyKey
			}
			ref.Status = StatusInitiated
			ref.IdempotencyKey = key
			ref.ErrorMessage = nil
			return tx.Model(&Refund{}).Where("id = ?", ref.ID).Updates(map[string]any{
				"status": StatusInitiated, "idempotency_key": key, "error_message": nil, "updated_at": now,
			}).Error
		}
		ref = Refund{
			ID:             uuid.NewString(),
			OrderID:        ord.ID,
			PrescriptionID: p.ID,
			Provider:       s.processor.Name(),
			IntentRef:      *p.PaymentReference,
			Status:         StatusInitiated,
			AmountMinor:    money.ToMinor(ord.TotalAmount),
			Currency:       ord.Currency,
			IdempotencyKey: key,
			Reason:         optional(reason),
		}
		return tx.Create(&ref).Error
	})
	if err != nil {
		return RefundOrderResult{}, classify(err)
	}
	if idempotent {
		return RefundOrderResult{
			RefundID: ref.ID, Status: ref.Status, Amount: money.FromMinor(ref.AmountMinor),
			Currency: ref.Currency, Order: ord, Idempotent: true,
		}, nil
	}

	// Phase-2: processor refund, outside the transaction
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	resp, perr := s.processor.Refund(pctx, RefundRequest{
		IntentRef:      ref.IntentRef,
		AmountMinor:    ref.AmountMinor,
		Currency:       ref.Currency,
		IdempotencyKey: ref.IdempotencyKey,
		Reason:         reason,
	})
	cancel()
	if perr == nil && resp.Status == StatusFailed {
		perr = ErrRefundDeclined
	}
	if perr != nil {
		msg := sanitize.Truncate(perr.Error(), 250)
		if err := s.db.WithContext(ctx).Model(&Refund{}).Where("id = ?", ref.ID).
			Updates(map[string]any{"status": StatusFailed, "error_message": msg, "updated_at": time.Now()}).Error; err != nil {
			s.logger.ErrorContext(ctx, "refund failure not recorded", "refund_id", ref.ID, "err", err)
		}
		s.logger.WarnContext(ctx, "refund failed at provider", "order_id", orderID, "refund_id", ref.ID, "err", perr)
		return RefundOrderResult{}, providerUnavailable(perr)
	}

	// Phase-3: cancel order and prescription, record the outcome
	var p prescriptions.Prescription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if ord, err = orders.LockForUpdate(ctx, tx, orderID); err != nil {
			return err
		}
		if p, err = prescriptions.LockForUpdate(ctx, tx, ord.PrescriptionID); err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&Refund{}).Where("id = ?", ref.ID).Updates(map[string]any{
			"status": resp.Status, "provider_ref": optional(resp.Ref), "updated_at": now,
		}).Error; err != nil {
			return err
		}
		if err := orders.Move(ctx, tx, &ord, orders.StatusCancelled, nil); err != nil {
			return err
		}
		if err := prescriptions.Transition(ctx, tx, &p, prescriptions.Change{
			To:     prescriptions.StatusCancelled,
			Actor:  actor,
			Action: "refund",
			Note:   reason,
			Set:    map[string]any{"payment_status": prescriptions.PaymentRefunded},
		}); err != nil {
			return err
		}
		if resp.Status != StatusSucceeded {
			return nil
		}
		return s.ledger(ctx, tx, ref, now)
	})
	if err != nil {
		// Money has left; the local state must be repaired by hand.
		s.logger.ErrorContext(ctx, "refund issued but not recorded",
			"order_id", orderID, "refund_id", ref.ID, "provider_ref", resp.Ref, "err", err)
		return RefundOrderResult{}, classify(err)
	}

	s.logger.InfoContext(ctx, "order refunded", "order_id", ord.ID, "refund_id", ref.ID, "status", resp.Status, "actor_id", actor.ID)
	amount := money.FromMinor(ref.AmountMinor)
	s.notify.NotifyCustomer(ctx, ord.CustomerID, notify.TemplateRefundIssued, map[string]any{
		"order_number": ord.OrderNumber,
		"amount":       amount,
		"currency":     ref.Currency,
	})
	return RefundOrderResult{RefundID: ref.ID, Status: resp.Status, Amount: amount, Currency: ref.Currency, Order: ord}, nil
}

// ApplyProviderOutcome settles a refund the processor reported as pending.
func (s *RefundService) ApplyProviderOutcome(ctx context.Context, providerRef, status string) error {
	if providerRef == "" {
		return errors.New("missing refund_ref")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Refund
		if err := tx.First(&r, "provider_ref = ?", providerRef).Error; err != nil {
			return err
		}
		if r.Status == status {
			return nil
		}
		now := time.Now()
		if err := tx.Model(&Refund{}).Where("id = ?", r.ID).
			Updates(map[string]any{"status": status, "updated_at": now}).Error; err != nil {
			return err
		}
		if status == StatusFailed {
			s.logger.ErrorContext(ctx, "refund failed after order was cancelled", "refund_id", r.ID, "order_id", r.OrderID)
			return nil
		}
		return s.ledger(ctx, tx, r, now)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: refund %s", ErrUnknownIntent, providerRef)
	}
	if err != nil {
		return persistence(err)
	}
	return nil
}

// staleAfter is how long an initiated refund is treated as still in flight.
func (s *RefundService) staleAfter() time.Duration {
	return 2 * s.timeout
}

func (s *RefundService) ledger(ctx context.Context, tx *gorm.DB, r Refund, at time.Time) error {
	orderID := r.OrderID
	return orders.EnsureFinancialEntry(ctx, tx, orders.FinancialEntry{
		ID:             uuid.NewString(),
		PrescriptionID: r.PrescriptionID,
		OrderID:        &orderID,
		Event:          orders.LedgerRefundSucceeded,
		Amount:         money.FromMinor(r.AmountMinor).Neg(),
		Currency:       r.Currency,
		RefType:        "refund",
		RefID:          r.ID,
		CreatedAt:      at,
	})
}
