package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/internal/shared/money"
)

const (
	defaultProviderTimeout = 10 * time.Second
	defaultIntentTTL       = 30 * time.Minute
)

type IntentConfig struct {
	Timeout   time.Duration
	TTL       time.Duration
	ReturnURL string
}

// IntentService mints processor intents for approved prescriptions. It also
// retires intents when a prescription stops being payable at its old price.
type IntentService struct {
	db        *gorm.DB
	processor Processor
	cfg       IntentConfig
	now       func() time.Time
	logger    *slog.Logger
}

func NewIntentService(db *gorm.DB, p Processor, cfg IntentConfig) *IntentService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProviderTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultIntentTTL
	}
	return &IntentService{db: db, processor: p, cfg: cfg, now: time.Now, logger: slog.Default()}
}

func (s *IntentService) SetLogger(logger *slog.Logger) { s.logger = logger }

type CreateIntentResult struct {
	PrescriptionID uint64
	IntentRef      string
	RedirectURL    string
	ClientSecret   string
	Amount         decimal.Decimal
	Currency       string
	ExpiresAt      time.Time
	Reused         bool
}

// CreateIntent returns the live intent when it still matches the price, or
// mints a new one and supersedes the old.
func (s *IntentService) CreateIntent(ctx context.Context, actor authz.Actor, prescriptionID uint64) (CreateIntentResult, error) {
	if err := authz.Require(actor, authz.Anyone...); err != nil {
		return CreateIntentResult{}, err
	}

	// Phase-1: lock, gate, look for a reusable intent
	var (
		p    prescriptions.Prescription
		live *PaymentIntent
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if p, err = prescriptions.LockForUpdate(ctx, tx, prescriptionID); err != nil {
			return err
		}
		if err := authz.RequireOwner(actor, p.CustomerID); err != nil {
			return err
		}
		if err := checkPayable(p); err != nil {
			return err
		}
		live, err = liveIntent(ctx, tx, p)
		return err
	})
	if err != nil {
		return CreateIntentResult{}, classify(err)
	}

	minor := money.ToMinor(p.Amount)
	now := s.now()
	if live != nil && live.AmountMinor == minor && live.Currency == p.Currency && now.Before(live.ExpiresAt) {
		s.logger.InfoContext(ctx, "payment intent reused", "prescription_id", p.ID, "intent_ref", live.ProviderRef)
		return resultFrom(p, *live, true), nil
	}

	// Phase-2: processor call, outside any transaction. The key is unique
	// per attempt so overlapping requests never share a processor intent.
	rowID := uuid.NewString()
	key := fmt.Sprintf("rx-%d-%s", p.ID, rowID)
	pctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	intent, perr := s.processor.CreateIntent(pctx, IntentRequest{
		PrescriptionID: p.ID,
		CustomerID:     p.CustomerID,
		AmountMinor:    minor,
		Currency:       p.Currency,
		IdempotencyKey: key,
		ReturnURL:      s.cfg.ReturnURL,
	})
	cancel()
	if perr != nil {
		s.logger.WarnContext(ctx, "payment intent creation failed",
			"prescription_id", p.ID, "provider", s.processor.Name(), "err", perr)
		return CreateIntentResult{}, providerUnavailable(perr)
	}

	expires := intent.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(s.cfg.TTL)
	}
	row := PaymentIntent{
		ID:             rowID,
		PrescriptionID: p.ID,
		Provider:       s.processor.Name(),
		ProviderRef:    intent.Ref,
		Status:         StatusInitiated,
		AmountMinor:    minor,
		Currency:       p.Currency,
		RedirectURL:    optional(intent.RedirectURL),
		ClientSecret:   optional(intent.ClientSecret),
		IdempotencyKey: key,
		ExpiresAt:      expires,
	}

	// Phase-3: re-check, supersede, record the new live intent
	var superseded []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if p, err = prescriptions.LockForUpdate(ctx, tx, prescriptionID); err != nil {
			return err
		}
		if err := checkPayable(p); err != nil {
			return err
		}
		if money.ToMinor(p.Amount) != minor || p.Currency != row.Currency {
			return prescriptions.ErrConcurrentUpdate
		}
		if superseded, err = s.ReleaseIntents(ctx, tx, p.ID); err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return prescriptions.Transition(ctx, tx, &p, prescriptions.Change{
			To:     p.Status,
			Actor:  actor,
			Action: "payment_intent",
			Note:   intent.Ref,
			Set:    map[string]any{"payment_intent_id": intent.Ref},
		})
	})
	if err != nil {
		s.cancelOrphan(ctx, intent.Ref)
		return CreateIntentResult{}, classify(err)
	}

	s.CancelAtProvider(ctx, superseded)
	s.logger.InfoContext(ctx, "payment intent created",
		"prescription_id", p.ID, "intent_ref", intent.Ref, "amount_minor", minor, "superseded", len(superseded))
	return resultFrom(p, row, false), nil
}

// ReleaseIntents marks every live intent of the prescription superseded and
// returns their references. It runs inside the caller's transaction.
func (s *IntentService) ReleaseIntents(ctx context.Context, tx *gorm.DB, prescriptionID uint64) ([]string, error) {
	var refs []string
	if err := tx.WithContext(ctx).Model(&PaymentIntent{}).
		Where("prescription_id = ? AND status = ?", prescriptionID, StatusInitiated).
		Pluck("provider_ref", &refs).Error; err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	err := tx.WithContext(ctx).Model(&PaymentIntent{}).
		Where("prescription_id = ? AND status = ?", prescriptionID, StatusInitiated).
		Updates(map[string]any{"status": StatusSuperseded, "updated_at": s.now()}).Error
	return refs, err
}

// CancelAtProvider is best effort: a superseded intent that cannot be
// cancelled is still refused by the reconciler.
func (s *IntentService) CancelAtProvider(ctx context.Context, refs []string) {
	for _, ref := range refs {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
		if err := s.processor.CancelIntent(cctx, ref); err != nil {
			s.logger.WarnContext(ctx, "superseded intent not cancelled at provider", "intent_ref", ref, "err", err)
		}
		cancel()
	}
}

// cancelOrphan cancels an intent whose row was never recorded. A processor
// that handed the same intent to another request may have it stored as live,
// and that one must stay open.
func (s *IntentService) cancelOrphan(ctx context.Context, ref string) {
	var n int64
	err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&PaymentIntent{}).
		Where("provider_ref = ? AND status = ?", ref, StatusInitiated).
		Count(&n).Error
	if err != nil {
		s.logger.WarnContext(ctx, "orphan intent check failed; leaving it open", "intent_ref", ref, "err", err)
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "intent is live for another request; not cancelled", "intent_ref", ref)
		return
	}
	s.CancelAtProvider(ctx, []string{ref})
}

func checkPayable(p prescriptions.Prescription) error {
	switch {
	case p.Payable():
		return nil
	case p.AwaitingPayment():
		return ErrNotPriced
	default:
		return prescriptions.NewStateError("create_payment_intent", p.Status)
	}
}

func liveIntent(ctx context.Context, tx *gorm.DB, p prescriptions.Prescription) (*PaymentIntent, error) {
	if p.PaymentIntentID == nil {
		return nil, nil
	}
	var pi PaymentIntent
	err := tx.WithContext(ctx).
		Where("provider_ref = ? AND status = ?", *p.PaymentIntentID, StatusInitiated).
		First(&pi).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pi, nil
}

func resultFrom(p prescriptions.Prescription, pi PaymentIntent, reused bool) CreateIntentResult {
	return CreateIntentResult{
		PrescriptionID: p.ID,
		IntentRef:      pi.ProviderRef,
		RedirectURL:    deref(pi.RedirectURL),
		ClientSecret:   deref(pi.ClientSecret),
		Amount:         money.FromMinor(pi.AmountMinor),
		Currency:       pi.Currency,
		ExpiresAt:      pi.ExpiresAt,
		Reused:         reused,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
