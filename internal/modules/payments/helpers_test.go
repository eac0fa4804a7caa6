package payments_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/logging"
	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/payments"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/modules/users"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/internal/testutil"
)

const webhookSecret = "whsec_test_mock"

var (
	customer = authz.Actor{ID: 100, Role: authz.RoleCustomer}
	stranger = authz.Actor{ID: 101, Role: authz.RoleCustomer}
	pharm    = authz.Actor{ID: 1, Role: authz.RoleStaff}
	super    = authz.Actor{ID: 3, Role: authz.RoleSupervisor}
)

type recordingSender struct {
	mu    sync.Mutex
	ids   []string
	data  []map[string]any
	staff []notify.StaffMessage
}

func (r *recordingSender) NotifyCustomer(_ context.Context, _ uint64, templateID string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, templateID)
	r.data = append(r.data, data)
}

func (r *recordingSender) NotifyStaff(_ context.Context, msg notify.StaffMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staff = append(r.staff, msg)
}

func (r *recordingSender) count(templateID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.ids {
		if id == templateID {
			n++
		}
	}
	return n
}

// env wires the payment services the way cmd/web does, over SQLite.
type env struct {
	db      *gorm.DB
	proc    payments.Processor
	sent    *recordingSender
	rx      *prescriptions.Service
	review  *prescriptions.ReviewService
	intents *payments.IntentService
	recon   *payments.Reconciler
	refunds *payments.RefundService
	hooks   *payments.WebhookService
	orders  *orders.FulfillmentService
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := testutil.NewDB(t,
		&users.User{},
		&prescriptions.Prescription{}, &prescriptions.Event{},
		&orders.Order{}, &orders.FinancialEntry{},
		&payments.PaymentIntent{}, &payments.ProviderEvent{}, &payments.Refund{},
	)
	require.NoError(t, db.Create([]users.User{
		{ID: 1, Email: "pharm@globlept.co.uk", Name: "Pharm", Role: "staff"},
		{ID: 3, Email: "super@globlept.co.uk", Name: "Super", Role: "supervisor"},
		{ID: 100, Email: "ada@example.com", Name: "Ada", Role: "customer"},
	}).Error)
	return db
}

func newEnv(t *testing.T, p payments.Processor) env {
	t.Helper()
	rs := &recordingSender{}
	e := newEnvWith(t, p, func(*gorm.DB) notify.Sender { return rs })
	e.sent = rs
	return e
}

// newEnvWith builds the services around the sender returned by senderFor.
func newEnvWith(t *testing.T, p payments.Processor, senderFor func(*gorm.DB) notify.Sender) env {
	t.Helper()
	db := newDB(t)
	log := logging.Discard()
	sender := senderFor(db)

	intents := payments.NewIntentService(db, p, payments.IntentConfig{Timeout: time.Second, ReturnURL: "https://rx.test/return"})
	intents.SetLogger(log)

	rx := prescriptions.NewService(db, nil, sender, "GBP")
	rx.SetLogger(log)
	rx.SetIntentReleaser(intents)
	review := prescriptions.NewReviewService(db, users.NewDirectory(db), sender)
	review.SetLogger(log)
	review.SetIntentReleaser(intents)

	m := orders.NewMaterializer()
	m.SetLogger(log)
	recon := payments.NewReconciler(db, p, m, sender, time.Second)
	recon.SetLogger(log)
	refunds := payments.NewRefundService(db, p, sender, time.Second)
	refunds.SetLogger(log)
	hooks := payments.NewWebhookService(db, recon, refunds)
	hooks.SetLogger(log)
	fulfil := orders.NewFulfillmentService(db, sender)
	fulfil.SetLogger(log)

	return env{
		db: db, proc: p, rx: rx, review: review,
		intents: intents, recon: recon, refunds: refunds, hooks: hooks, orders: fulfil,
	}
}

func newMockProcessor() *payments.MockProcessor {
	return payments.NewMockProcessor(webhookSecret, false)
}

// approved submits a prescription and approves it at 12.50 GBP.
func (e env) approved(t *testing.T) prescriptions.Prescription {
	t.Helper()
	ctx := context.Background()
	p, err := e.rx.Submit(ctx, customer, prescriptions.SubmitInput{
		Medicines: []prescriptions.Medicine{{Name: "Amoxicillin 500mg", Quantity: 21}},
		Quantity:  1,
		DeliveryAddress: prescriptions.Address{
			Name: "Ada Lovelace", Line1: "1 St James's Square", City: "London", Postcode: "SW1Y 4JH", Country: "GB",
		},
	})
	require.NoError(t, err)
	price := decimal.RequireFromString("12.50")
	p, err = e.review.Approve(ctx, pharm, p.ID, &price)
	require.NoError(t, err)
	return p
}

func (e env) prescription(t *testing.T, id uint64) prescriptions.Prescription {
	t.Helper()
	var p prescriptions.Prescription
	require.NoError(t, e.db.First(&p, "id = ?", id).Error)
	return p
}

func (e env) count(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}
