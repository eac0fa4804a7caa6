package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	MockSignatureHeader = "X-Mock-Signature"
	mockTolerance       = 5 * time.Minute
)

// MockPayload is the JSON body the mock processor signs and accepts.
type MockPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		IntentRef      string `json:"intent_ref"`
		RefundRef      string `json:"refund_ref,omitempty"`
		PrescriptionID uint64 `json:"prescription_id,omitempty"`
		AmountMinor    int64  `json:"amount_minor"`
		Currency       string `json:"currency"`
	} `json:"data"`
}

type mockIntent struct {
	req    IntentRequest
	status string
	charge string
}

// MockProcessor is an in-memory processor for local development and tests.
// Webhooks are signed with HMAC-SHA256 over "<unix>.<body>".
type MockProcessor struct {
	secret      []byte
	autoSucceed bool
	now         func() time.Time

	mu      sync.Mutex
	intents map[string]*mockIntent
}

// NewMockProcessor returns a processor whose intents stay pending until a
// payment.succeeded webhook or Pay, unless autoSucceed is set.
func NewMockProcessor(secret string, autoSucceed bool) *MockProcessor {
	return &MockProcessor{
		secret:      []byte(secret),
		autoSucceed: autoSucceed,
		now:         time.Now,
		intents:     map[string]*mockIntent{},
	}
}

func (m *MockProcessor) Name() string { return "mock" }

func (m *MockProcessor) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	if req.AmountMinor <= 0 {
		return Intent{}, errors.New("mock: amount must be positive")
	}
	ref := "mock_pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	status := StatusPending
	if m.autoSucceed {
		status = StatusSucceeded
	}

	m.mu.Lock()
	m.intents[ref] = &mockIntent{req: req, status: status, charge: "mock_ch_" + ref[len("mock_pi_"):]}
	m.mu.Unlock()

	redirect := ""
	if req.ReturnURL != "" {
		redirect = req.ReturnURL + "?intent=" + ref
	}
	return Intent{Ref: ref, ClientSecret: ref + "_secret", RedirectURL: redirect}, nil
}

func (m *MockProcessor) Verify(_ context.Context, ref string) (Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[ref]
	if !ok {
		return Verification{}, fmt.Errorf("mock: %w %q", ErrUnknownIntent, ref)
	}
	return Verification{
		Ref:            ref,
		Succeeded:      in.status == StatusSucceeded,
		Status:         in.status,
		AmountMinor:    in.req.AmountMinor,
		Currency:       strings.ToUpper(in.req.Currency),
		ChargeID:       in.charge,
		PrescriptionID: in.req.PrescriptionID,
	}, nil
}

func (m *MockProcessor) CancelIntent(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[ref]
	if !ok {
		return fmt.Errorf("mock: unknown intent %q", ref)
	}
	if in.status == StatusSucceeded {
		return errors.New("mock: cannot cancel a succeeded intent")
	}
	in.status = StatusFailed
	return nil
}

func (m *MockProcessor) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[req.IntentRef]
	if !ok || in.status != StatusSucceeded {
		return RefundResult{}, fmt.Errorf("mock: intent %q was not paid", req.IntentRef)
	}
	return RefundResult{Ref: "mock_re_" + req.IdempotencyKey, Status: StatusSucceeded}, nil
}

// Pay marks an intent as paid, as if the customer completed checkout.
func (m *MockProcessor) Pay(ref string) {
	m.setStatus(ref, StatusSucceeded)
}

func (m *MockProcessor) setStatus(ref, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.intents[ref]; ok {
		in.status = status
	}
}

// Sign returns the signature header value for body at time t.
func (m *MockProcessor) Sign(t time.Time, body []byte) string {
	return SignMockPayload(m.secret, t, body)
}

// SignMockPayload computes the X-Mock-Signature header value.
func SignMockPayload(secret []byte, t time.Time, body []byte) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func (m *MockProcessor) ParseWebhook(headers http.Header, body []byte) (WebhookEvent, error) {
	if err := m.verifySignature(headers.Get(MockSignatureHeader), body); err != nil {
		return WebhookEvent{}, err
	}

	var p MockPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return WebhookEvent{}, fmt.Errorf("mock: decode payload: %w", err)
	}
	if p.ID == "" || p.Type == "" {
		return WebhookEvent{}, errors.New("mock: event id and type are required")
	}

	// The simulated processor settles the intent when it announces success.
	switch p.Type {
	case EventPaymentSucceeded:
		m.setStatus(p.Data.IntentRef, StatusSucceeded)
	case EventPaymentFailed:
		m.setStatus(p.Data.IntentRef, StatusFailed)
	}

	return WebhookEvent{
		EventID:        p.ID,
		Type:           p.Type,
		IntentRef:      p.Data.IntentRef,
		RefundRef:      p.Data.RefundRef,
		PrescriptionID: p.Data.PrescriptionID,
		AmountMinor:    p.Data.AmountMinor,
		Currency:       strings.ToUpper(p.Data.Currency),
	}, nil
}

func (m *MockProcessor) verifySignature(header string, body []byte) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if d := m.now().Sub(time.Unix(unix, 0)); d > mockTolerance || d < -mockTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	want := SignMockPayload(m.secret, time.Unix(unix, 0), body)
	_, wantSig, _ := strings.Cut(want, ",v1=")
	if !hmac.Equal([]byte(wantSig), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}
