package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/database"
	"globlept.co.uk/app/internal/shared/sanitize"
)

// WebhookService records processor events in the inbox and applies each
// one at most once.
type WebhookService struct {
	db         *gorm.DB
	reconciler *Reconciler
	refunds    *RefundService
	logger     *slog.Logger
}

func NewWebhookService(db *gorm.DB, r *Reconciler, refunds *RefundService) *WebhookService {
	return &WebhookService{db: db, reconciler: r, refunds: refunds, logger: slog.Default()}
}

func (s *WebhookService) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Handle returns nil for anything the processor should not redeliver.
// Persistence and provider lookup failures are returned so the processor
// retries.
func (s *WebhookService) Handle(ctx context.Context, providerName string, ev WebhookEvent, rawBody []byte) error {
	payload := rawBody
	if !json.Valid(payload) {
		payload, _ = json.Marshal(map[string]string{"raw": string(rawBody)})
	}

	pe, fresh, err := s.record(ctx, providerName, ev, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist provider event", "provider", providerName, "event_id", ev.EventID, "err", err)
		return persistence(err)
	}
	if !fresh && pe.ProcessedAt != nil {
		s.logger.InfoContext(ctx, "webhook event deduplicated", "provider", providerName, "event_id", ev.EventID, "type", ev.Type)
		return nil
	}

	var applyErr error
	switch ev.Type {
	case EventPaymentSucceeded:
		applyErr = s.applyPaymentSucceeded(ctx, providerName, ev)
	case EventPaymentFailed:
		applyErr = s.applyPaymentFailed(ctx, providerName, ev)
	case EventRefundSucceeded:
		applyErr = s.refunds.ApplyProviderOutcome(ctx, ev.RefundRef, StatusSucceeded)
	case EventRefundFailed:
		applyErr = s.refunds.ApplyProviderOutcome(ctx, ev.RefundRef, StatusFailed)
	default:
		applyErr = fmt.Errorf("ignored event type %q", ev.Type)
	}

	if applyErr != nil && retryable(applyErr) {
		s.logger.ErrorContext(ctx, "webhook event apply failed", "provider", providerName, "event_id", ev.EventID, "type", ev.Type, "err", applyErr)
		_ = s.finish(ctx, pe.ID, applyErr)
		return applyErr
	}
	if applyErr != nil {
		// Recorded and acknowledged: redelivery would fail the same way.
		s.logger.WarnContext(ctx, "webhook event not applied", "provider", providerName, "event_id", ev.EventID, "type", ev.Type, "err", applyErr)
	}
	if err := s.finish(ctx, pe.ID, applyErr); err != nil {
		return persistence(err)
	}
	s.logger.InfoContext(ctx, "webhook event processed", "provider", providerName, "event_id", ev.EventID, "type", ev.Type)
	return nil
}

// record inserts the inbox row, or loads it when the event was seen before.
func (s *WebhookService) record(ctx context.Context, providerName string, ev WebhookEvent, payload []byte) (ProviderEvent, bool, error) {
	pe := ProviderEvent{
		ID:          uuid.NewString(),
		Provider:    providerName,
		EventID:     ev.EventID,
		EventType:   ev.Type,
		PayloadJSON: datatypes.JSON(payload),
		ReceivedAt:  time.Now(),
	}
	err := s.db.WithContext(ctx).Create(&pe).Error
	if err == nil {
		return pe, true, nil
	}
	if !database.IsDuplicateKey(err) {
		return ProviderEvent{}, false, err
	}
	var existing ProviderEvent
	if err := s.db.WithContext(ctx).
		First(&existing, "provider = ? AND event_id = ?", providerName, ev.EventID).Error; err != nil {
		return ProviderEvent{}, false, err
	}
	return existing, false, nil
}

func (s *WebhookService) finish(ctx context.Context, id string, applyErr error) error {
	updates := map[string]any{"process_error": nil}
	if applyErr != nil {
		updates["process_error"] = sanitize.Truncate(applyErr.Error(), 250)
	}
	if applyErr == nil || !retryable(applyErr) {
		updates["processed_at"] = time.Now()
	}
	return s.db.WithContext(ctx).Model(&ProviderEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (s *WebhookService) applyPaymentSucceeded(ctx context.Context, provider string, ev WebhookEvent) error {
	if ev.IntentRef == "" {
		return errors.New("missing intent_ref")
	}
	id := ev.PrescriptionID
	if id == 0 {
		var pi PaymentIntent
		err := s.db.WithContext(ctx).Select("prescription_id").
			First(&pi, "provider = ? AND provider_ref = ?", provider, ev.IntentRef).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownIntent, ev.IntentRef)
		}
		if err != nil {
			return persistence(err)
		}
		id = pi.PrescriptionID
	}
	_, err := s.reconciler.Reconcile(ctx, id, ev.IntentRef, SourceWebhook)
	return err
}

func (s *WebhookService) applyPaymentFailed(ctx context.Context, provider string, ev WebhookEvent) error {
	if ev.IntentRef == "" {
		return errors.New("missing intent_ref")
	}
	err := s.db.WithContext(ctx).Model(&PaymentIntent{}).
		Where("provider = ? AND provider_ref = ? AND status = ?", provider, ev.IntentRef, StatusInitiated).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_message": "provider webhook: failed",
			"updated_at":    time.Now(),
		}).Error
	if err != nil {
		return persistence(err)
	}
	return nil
}

// retryable reports whether the processor should redeliver. Failures of our
// own store or of the provider lookup qualify; anything about the event
// itself will fail the same way again.
func retryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrProviderUnavailable)
}
