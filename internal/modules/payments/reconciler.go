package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/internal/shared/money"
)

const instrumentationName = "globlept.co.uk/app/internal/modules/payments"

// Source names the trigger that reported a payment.
type Source string

const (
	SourceClient  Source = "client"
	SourceWebhook Source = "webhook"
)

type Result struct {
	Order        orders.Order
	Prescription prescriptions.Prescription
	// AlreadyReconciled is set when another trigger got there first.
	AlreadyReconciled bool
}

// Reconciler performs the one-time paid transition of a prescription and
// creates its order. Every trigger goes through Reconcile.
type Reconciler struct {
	db           *gorm.DB
	processor    Processor
	materializer *orders.Materializer
	notify       notify.Sender
	timeout      time.Duration
	logger       *slog.Logger

	tracer  trace.Tracer
	counter metric.Int64Counter
}

func NewReconciler(db *gorm.DB, p Processor, m *orders.Materializer, n notify.Sender, timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter("rx.reconciliations",
		metric.WithDescription("Payment reconciliations by trigger and outcome"))
	if err != nil {
		otel.Handle(err)
	}
	return &Reconciler{
		db:           db,
		processor:    p,
		materializer: m,
		notify:       n,
		timeout:      timeout,
		logger:       slog.Default(),
		tracer:       otel.Tracer(instrumentationName),
		counter:      counter,
	}
}

func (r *Reconciler) SetLogger(logger *slog.Logger) { r.logger = logger }

// ConfirmPayment is the customer's return from checkout.
func (r *Reconciler) ConfirmPayment(ctx context.Context, actor authz.Actor, prescriptionID uint64, ref string) (Result, error) {
	if err := authz.Require(actor, authz.Anyone...); err != nil {
		return Result{}, err
	}
	p, err := prescriptions.NewRepo(r.db).Get(ctx, prescriptionID)
	if err != nil {
		return Result{}, classify(err)
	}
	if err := authz.RequireOwner(actor, p.CustomerID); err != nil {
		return Result{}, err
	}
	return r.Reconcile(ctx, prescriptionID, ref, SourceClient)
}

func (r *Reconciler) Reconcile(ctx context.Context, prescriptionID uint64, ref string, source Source) (res Result, err error) {
	ctx, span := r.tracer.Start(ctx, "payments.Reconcile", trace.WithAttributes(
		attribute.Int64("prescription.id", int64(prescriptionID)),
		attribute.String("payment.source", string(source)),
	))
	defer func() {
		outcome := outcomeOf(res, err)
		span.SetAttributes(attribute.String("payment.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		if r.counter != nil {
			r.counter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("source", string(source)),
				attribute.String("outcome", outcome),
			))
		}
	}()

	if ref == "" {
		return Result{}, verificationFailed("missing intent reference")
	}

	repo := prescriptions.NewRepo(r.db)
	p, err := repo.Get(ctx, prescriptionID)
	if err != nil {
		return Result{}, classify(err)
	}
	if p.IsPaid() {
		return r.alreadyPaid(ctx, r.db, p)
	}

	vctx, cancel := context.WithTimeout(ctx, r.timeout)
	v, verr := r.processor.Verify(vctx, ref)
	cancel()
	if verr != nil {
		if errors.Is(verr, ErrUnknownIntent) {
			return Result{}, r.loud(ctx, verificationFailed("provider lookup for %s: %v", ref, verr), p.ID, ref, source)
		}
		r.logger.WarnContext(ctx, "payment verification lookup failed",
			"prescription_id", p.ID, "intent_ref", ref, "source", source, "err", verr)
		return Result{}, providerUnavailable(verr)
	}
	if !v.Succeeded {
		return Result{}, r.loud(ctx, verificationFailed("intent %s is %s", ref, v.Status), p.ID, ref, source)
	}

	var already bool
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if p, err = prescriptions.LockForUpdate(ctx, tx, prescriptionID); err != nil {
			return err
		}
		if p.IsPaid() {
			already = true
			res.Order, err = orders.GetByPrescriptionTx(ctx, tx, p.ID)
			return err
		}
		if p.Status != prescriptions.StatusApproved && p.Status != prescriptions.StatusReady {
			return prescriptions.NewStateError("reconcile_payment", p.Status)
		}
		if p.PaymentIntentID == nil || *p.PaymentIntentID != v.Ref || v.Ref != ref {
			return verificationFailed("intent %s is not the live intent", ref)
		}
		if v.AmountMinor != money.ToMinor(p.Amount) || v.Currency != p.Currency {
			return verificationFailed("intent %s paid %d %s, expected %s %s",
				ref, v.AmountMinor, v.Currency, p.Amount.StringFixed(2), p.Currency)
		}

		now := time.Now()
		set := map[string]any{
			"payment_status":    prescriptions.PaymentPaid,
			"paid_at":           now,
			"payment_reference": ref,
		}
		if v.ChargeID != "" {
			set["charge_id"] = v.ChargeID
		}
		if err := prescriptions.Transition(ctx, tx, &p, prescriptions.Change{
			To:     prescriptions.StatusPaid,
			Actor:  authz.System,
			Action: "payment_" + string(source),
			Note:   ref,
			Set:    set,
		}); err != nil {
			return err
		}

		if err := tx.Model(&PaymentIntent{}).
			Where("provider_ref = ?", ref).
			Updates(map[string]any{"status": StatusSucceeded, "updated_at": now}).Error; err != nil {
			return err
		}

		o, err := r.materializer.Materialize(ctx, tx, orders.SnapshotOf(p))
		if err != nil {
			return err
		}
		res.Order = o

		return orders.EnsureFinancialEntry(ctx, tx, orders.FinancialEntry{
			ID:             uuid.NewString(),
			PrescriptionID: p.ID,
			OrderID:        &o.ID,
			Event:          orders.LedgerPaymentSucceeded,
			Amount:         p.Amount,
			Currency:       p.Currency,
			RefType:        "payment_intent",
			RefID:          ref,
			CreatedAt:      now,
		})
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrVerificationFailed) {
			return Result{}, r.loud(ctx, err, prescriptionID, ref, source)
		}
		r.logger.ErrorContext(ctx, "payment reconciliation failed",
			"prescription_id", prescriptionID, "intent_ref", ref, "source", source, "err", err)
		return Result{}, err
	}
	res.Prescription = p
	if already {
		res.AlreadyReconciled = true
		r.logger.InfoContext(ctx, "payment already reconciled", "prescription_id", p.ID, "source", source)
		return res, nil
	}

	r.logger.InfoContext(ctx, "payment reconciled",
		"prescription_id", p.ID, "order_number", res.Order.OrderNumber, "intent_ref", ref, "source", source)
	r.afterPaid(ctx, p, res.Order)
	return res, nil
}

func (r *Reconciler) alreadyPaid(ctx context.Context, db *gorm.DB, p prescriptions.Prescription) (Result, error) {
	o, err := orders.GetByPrescriptionTx(ctx, db, p.ID)
	if err != nil {
		return Result{}, classify(err)
	}
	return Result{Order: o, Prescription: p, AlreadyReconciled: true}, nil
}

// afterPaid runs after commit. Delivery failures never undo the payment.
func (r *Reconciler) afterPaid(ctx context.Context, p prescriptions.Prescription, o orders.Order) {
	r.notify.NotifyCustomer(ctx, p.CustomerID, notify.TemplatePaymentReceipt, map[string]any{
		"prescription_id":    p.ID,
		"amount":             o.TotalAmount,
		"currency":           o.Currency,
		"order_number":       o.OrderNumber,
		"estimated_delivery": o.EstimatedDelivery,
	})
	r.notify.NotifyStaff(ctx, notify.StaffMessage{
		Kind:           notify.TemplateStaffNewOrder,
		PrescriptionID: p.ID,
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		Summary:        fmt.Sprintf("Order %s paid: %s", o.OrderNumber, money.Format(o.TotalAmount, o.Currency)),
	})
}

// loud logs a verification failure at error level and reports it, since it
// can mean money was taken against a stale intent.
func (r *Reconciler) loud(ctx context.Context, err error, prescriptionID uint64, ref string, source Source) error {
	r.logger.ErrorContext(ctx, "payment verification failed",
		"prescription_id", prescriptionID, "intent_ref", ref, "source", source, "err", err)
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("payment.source", string(source))
		scope.SetTag("payment.intent_ref", ref)
		scope.SetExtra("prescription_id", prescriptionID)
		hub.CaptureException(err)
	})
	return err
}

func outcomeOf(res Result, err error) string {
	switch {
	case err == nil && res.AlreadyReconciled:
		return "already_reconciled"
	case err == nil:
		return "paid"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, prescriptions.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "error"
	}
}
