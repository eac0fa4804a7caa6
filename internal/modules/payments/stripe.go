package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeProcessor implements Processor with Stripe PaymentIntents.
type StripeProcessor struct {
	intents       stripeIntentAPI
	refunds       stripeRefundAPI
	webhookSecret string
}

func NewStripeProcessor(apiKey, webhookSecret string) (*StripeProcessor, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" || strings.TrimSpace(webhookSecret) == "" {
		return nil, errors.New("stripe: api key and webhook secret are required")
	}
	sc := client.New(apiKey, nil)
	return &StripeProcessor{intents: sc.PaymentIntents, refunds: sc.Refunds, webhookSecret: webhookSecret}, nil
}

func (p *StripeProcessor) Name() string { return "stripe" }

func (p *StripeProcessor) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("prescription_id", strconv.FormatUint(req.PrescriptionID, 10))
	params.AddMetadata("customer_id", strconv.FormatUint(req.CustomerID, 10))

	pi, err := p.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	out := Intent{Ref: pi.ID, ClientSecret: pi.ClientSecret}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		out.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	return out, nil
}

func (p *StripeProcessor) Verify(ctx context.Context, ref string) (Verification, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.intents.Get(ref, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && (serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing) {
			return Verification{}, fmt.Errorf("stripe: %w %q: %w", ErrUnknownIntent, ref, err)
		}
		return Verification{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripeVerification(pi), nil
}

func stripeVerification(pi *stripe.PaymentIntent) Verification {
	v := Verification{
		Ref:         pi.ID,
		Status:      string(pi.Status),
		Succeeded:   pi.Status == stripe.PaymentIntentStatusSucceeded,
		AmountMinor: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
	}
	if pi.LatestCharge != nil {
		v.ChargeID = pi.LatestCharge.ID
	}
	if id, err := strconv.ParseUint(pi.Metadata["prescription_id"], 10, 64); err == nil {
		v.PrescriptionID = id
	}
	return v
}

func (p *StripeProcessor) CancelIntent(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	if _, err := p.intents.Cancel(ref, params); err != nil {
		return fmt.Errorf("stripe: cancel payment intent: %w", err)
	}
	return nil
}

func (p *StripeProcessor) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentRef),
		Amount:        stripe.Int64(req.AmountMinor),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	r, err := p.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	status := StatusPending
	switch r.Status {
	case stripe.RefundStatusSucceeded:
		status = StatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		status = StatusFailed
	}
	return RefundResult{Ref: r.ID, Status: status}, nil
}

// ParseWebhook checks the Stripe-Signature header before decoding anything.
func (p *StripeProcessor) ParseWebhook(headers http.Header, body []byte) (WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(body, headers.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{Tolerance: webhook.DefaultTolerance, IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{EventID: ev.ID, Type: string(ev.Type)}
	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		v := stripeVerification(&pi)
		out.IntentRef = v.Ref
		out.PrescriptionID = v.PrescriptionID
		out.AmountMinor = v.AmountMinor
		out.Currency = v.Currency
		out.Type = EventPaymentFailed
		if ev.Type == "payment_intent.succeeded" {
			out.Type = EventPaymentSucceeded
		}
	case "refund.updated", "charge.refund.updated":
		var r stripe.Refund
		if err := json.Unmarshal(ev.Data.Raw, &r); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode refund: %w", err)
		}
		out.RefundRef = r.ID
		out.AmountMinor = r.Amount
		out.Currency = strings.ToUpper(string(r.Currency))
		if r.PaymentIntent != nil {
			out.IntentRef = r.PaymentIntent.ID
		}
		switch r.Status {
		case stripe.RefundStatusSucceeded:
			out.Type = EventRefundSucceeded
		case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
			out.Type = EventRefundFailed
		}
	}
	return out, nil
}
