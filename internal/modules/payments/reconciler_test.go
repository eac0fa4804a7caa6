package payments_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/logging"
	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/payments"
	"globlept.co.uk/app/internal/modules/payments/mocks"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/modules/users"
	"globlept.co.uk/app/internal/shared/authz"
)

func TestPaymentToDeliveryHappyPath(t *testing.T) {
	ctx := context.Background()
	mock := newMockProcessor()
	e := newEnv(t, mock)
	p := e.approved(t)

	intent, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)
	assert.True(t, intent.Amount.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, "GBP", intent.Currency)
	assert.Contains(t, intent.RedirectURL, intent.IntentRef)

	mock.Pay(intent.IntentRef)
	res, err := e.recon.ConfirmPayment(ctx, customer, p.ID, intent.IntentRef)
	require.NoError(t, err)
	assert.False(t, res.AlreadyReconciled)
	assert.Equal(t, prescriptions.StatusPaid, res.Prescription.Status)
	assert.Equal(t, prescriptions.PaymentPaid, res.Prescription.PaymentStatus)
	require.NotNil(t, res.Prescription.PaidAt)
	assert.Regexp(t, `^RX-[0-9A-Z]{26}$`, res.Order.OrderNumber)
	assert.True(t, res.Order.TotalAmount.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, orders.StatusConfirmed, res.Order.Status)
	assert.Equal(t, 1, e.sent.count(notify.TemplatePaymentReceipt))
	require.Len(t, e.sent.staff, 1)
	assert.Equal(t, res.Order.OrderNumber, e.sent.staff[0].OrderNumber)

	o, err := e.orders.Dispatch(ctx, pharm, res.Order.ID, orders.Tracking{Number: "RM123", Courier: "Royal Mail"})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDispatched, o.Status)
	assert.Equal(t, prescriptions.StatusDispatched, e.prescription(t, p.ID).Status)

	o, err = e.orders.Deliver(ctx, pharm, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, o.Status)
	assert.Equal(t, prescriptions.StatusDelivered, e.prescription(t, p.ID).Status)

	var ledger []orders.FinancialEntry
	require.NoError(t, e.db.Find(&ledger, "prescription_id = ?", p.ID).Error)
	require.Len(t, ledger, 1)
	assert.Equal(t, orders.LedgerPaymentSucceeded, ledger[0].Event)
	assert.True(t, ledger[0].Amount.Equal(decimal.RequireFromString("12.50")))

	var pi payments.PaymentIntent
	require.NoError(t, e.db.First(&pi, "provider_ref = ?", intent.IntentRef).Error)
	assert.Equal(t, payments.StatusSucceeded, pi.Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mock := newMockProcessor()
	e := newEnv(t, mock)
	p := e.approved(t)
	intent, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)
	mock.Pay(intent.IntentRef)

	first, err := e.recon.Reconcile(ctx, p.ID, intent.IntentRef, payments.SourceWebhook)
	require.NoError(t, err)
	second, err := e.recon.ConfirmPayment(ctx, customer, p.ID, intent.IntentRef)
	require.NoError(t, err)

	assert.True(t, second.AlreadyReconciled)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, int64(1), e.count(t, &orders.Order{}, "prescription_id = ?", p.ID))
	assert.Equal(t, int64(1), e.count(t, &orders.FinancialEntry{}, "prescription_id = ?", p.ID))
	assert.Equal(t, 1, e.sent.count(notify.TemplatePaymentReceipt))
	assert.Equal(t, int64(1), e.count(t, &prescriptions.Event{}, "prescription_id = ? AND to_status = ?", p.ID, prescriptions.StatusPaid))
}

func TestConcurrentTriggersCreateOneOrder(t *testing.T) {
	ctx := context.Background()
	mock := newMockProcessor()
	e := newEnv(t, mock)
	p := e.approved(t)
	intent, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)
	mock.Pay(intent.IntentRef)

	results := make([]payments.Result, 2)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		results[0], err = e.recon.ConfirmPayment(ctx, customer, p.ID, intent.IntentRef)
		return err
	})
	g.Go(func() error {
		var err error
		results[1], err = e.recon.Reconcile(ctx, p.ID, intent.IntentRef, payments.SourceWebhook)
		return err
	})
	require.NoError(t, g.Wait())

	assert.NotEqual(t, results[0].AlreadyReconciled, results[1].AlreadyReconciled, "exactly one trigger wins")
	assert.Equal(t, results[0].Order.ID, results[1].Order.ID)
	assert.Equal(t, int64(1), e.count(t, &orders.Order{}, "prescription_id = ?", p.ID))
	assert.Equal(t, 1, e.sent.count(notify.TemplatePaymentReceipt))
}

func TestReconcileRefusesUnverifiedPayments(t *testing.T) {
	ctx := context.Background()

	t.Run("processor says not paid", func(t *testing.T) {
		mock := newMockProcessor()
		e := newEnv(t, mock)
		p := e.approved(t)
		intent, err := e.intents.CreateIntent(ctx, customer, p.ID)
		require.NoError(t, err)

		_, err = e.recon.ConfirmPayment(ctx, customer, p.ID, intent.IntentRef)
		require.ErrorIs(t, err, payments.ErrVerificationFailed)
		assert.Equal(t, prescriptions.StatusApproved, e.prescription(t, p.ID).Status)
		assert.Equal(t, int64(0), e.count(t, &orders.Order{}, "prescription_id = ?", p.ID))
	})

	t.Run("amount differs from the price", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		proc := mocks.NewMockProcessor(ctrl)
		proc.EXPECT().Name().Return("mock").AnyTimes()
		proc.EXPECT().CreateIntent(gomock.Any(), gomock.Any()).Return(payments.Intent{Ref: "pi_short"}, nil)
		proc.EXPECT().Verify(gomock.Any(), "pi_short").Return(payments.Verification{
			Ref: "pi_short", Succeeded: true, Status: payments.StatusSucceeded, AmountMinor: 1000, Currency: "GBP",
		}, nil)

		e := newEnv(t, proc)
		p := e.approved(t)
		_, err := e.intents.CreateIntent(ctx, customer, p.ID)
		require.NoError(t, err)

		_, err = e.recon.Reconcile(ctx, p.ID, "pi_short", payments.SourceWebhook)
		require.ErrorIs(t, err, payments.ErrVerificationFailed)
		assert.False(t, e.prescription(t, p.ID).IsPaid())
	})

	t.Run("processor unreachable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		proc := mocks.NewMockProcessor(ctrl)
		proc.EXPECT().Name().Return("mock").AnyTimes()
		proc.EXPECT().CreateIntent(gomock.Any(), gomock.Any()).Return(payments.Intent{Ref: "pi_1"}, nil)
		proc.EXPECT().Verify(gomock.Any(), "pi_1").Return(payments.Verification{}, errors.New("dial tcp: i/o timeout"))

		e := newEnv(t, proc)
		p := e.approved(t)
		_, err := e.intents.CreateIntent(ctx, customer, p.ID)
		require.NoError(t, err)

		_, err = e.recon.Reconcile(ctx, p.ID, "pi_1", payments.SourceClient)
		require.ErrorIs(t, err, payments.ErrProviderUnavailable)
		assert.NotErrorIs(t, err, payments.ErrVerificationFailed)
		assert.False(t, e.prescription(t, p.ID).IsPaid())
	})

	t.Run("processor does not know the intent", func(t *testing.T) {
		e := newEnv(t, newMockProcessor())
		p := e.approved(t)
		_, err := e.recon.Reconcile(ctx, p.ID, "mock_pi_forged", payments.SourceWebhook)
		require.ErrorIs(t, err, payments.ErrVerificationFailed)
		assert.False(t, e.prescription(t, p.ID).IsPaid())
	})

	t.Run("missing reference", func(t *testing.T) {
		e := newEnv(t, newMockProcessor())
		p := e.approved(t)
		_, err := e.recon.Reconcile(ctx, p.ID, "", payments.SourceClient)
		require.ErrorIs(t, err, payments.ErrVerificationFailed)
	})
}

func TestSupersededIntentCannotPay(t *testing.T) {
	ctx := context.Background()
	mock := newMockProcessor()
	e := newEnv(t, mock)
	p := e.approved(t)

	old, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)

	_, err = e.review.SetPrice(ctx, pharm, p.ID, decimal.RequireFromString("15.00"))
	require.NoError(t, err)
	assert.Nil(t, e.prescription(t, p.ID).PaymentIntentID)

	var row payments.PaymentIntent
	require.NoError(t, e.db.First(&row, "provider_ref = ?", old.IntentRef).Error)
	assert.Equal(t, payments.StatusSuperseded, row.Status)

	fresh, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, old.IntentRef, fresh.IntentRef)
	assert.True(t, fresh.Amount.Equal(decimal.RequireFromString("15.00")))

	// The customer somehow completes the stale checkout.
	mock.Pay(old.IntentRef)
	_, err = e.recon.ConfirmPayment(ctx, customer, p.ID, old.IntentRef)
	require.ErrorIs(t, err, payments.ErrVerificationFailed)
	assert.False(t, e.prescription(t, p.ID).IsPaid())

	mock.Pay(fresh.IntentRef)
	res, err := e.recon.ConfirmPayment(ctx, customer, p.ID, fresh.IntentRef)
	require.NoError(t, err)
	assert.True(t, res.Order.TotalAmount.Equal(decimal.RequireFromString("15.00")))
}

func TestCancelledPrescriptionCannotBePaid(t *testing.T) {
	ctx := context.Background()
	mock := newMockProcessor()
	e := newEnv(t, mock)
	p := e.approved(t)
	intent, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)

	_, err = e.rx.Cancel(ctx, customer, p.ID)
	require.NoError(t, err)

	mock.Pay(intent.IntentRef)
	_, err = e.recon.ConfirmPayment(ctx, customer, p.ID, intent.IntentRef)
	require.ErrorIs(t, err, prescriptions.ErrInvalidState)
	assert.False(t, e.prescription(t, p.ID).IsPaid())
	assert.Equal(t, int64(0), e.count(t, &orders.Order{}, "prescription_id = ?", p.ID))
}

func TestRejectedPrescriptionCannotBePaid(t *testing.T) {
	ctx := context.Background()
	mock := newMockProcessor()
	e := newEnv(t, mock)

	p, err := e.rx.Submit(ctx, customer, prescriptions.SubmitInput{
		Medicines: []prescriptions.Medicine{{Name: "Sertraline 50mg", Quantity: 28}},
		Quantity:  1,
		DeliveryAddress: prescriptions.Address{
			Name: "Ada Lovelace", Line1: "1 St James's Square", City: "London", Postcode: "SW1Y 4JH", Country: "GB",
		},
	})
	require.NoError(t, err)
	_, err = e.review.SetPrice(ctx, pharm, p.ID, decimal.RequireFromString("9.99"))
	require.NoError(t, err)
	_, err = e.review.Reject(ctx, pharm, p.ID, "Dose needs GP confirmation")
	require.NoError(t, err)

	// A checkout opened outside the orchestrator still cannot settle it.
	intent, err := mock.CreateIntent(ctx, payments.IntentRequest{
		PrescriptionID: p.ID, CustomerID: customer.ID, AmountMinor: 999, Currency: "GBP",
	})
	require.NoError(t, err)
	mock.Pay(intent.Ref)

	_, err = e.recon.Reconcile(ctx, p.ID, intent.Ref, payments.SourceWebhook)
	var se *prescriptions.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, string(prescriptions.StatusRejected), se.CurrentStatus())

	got := e.prescription(t, p.ID)
	assert.Equal(t, prescriptions.StatusRejected, got.Status)
	assert.False(t, got.IsPaid())
	assert.Equal(t, int64(0), e.count(t, &orders.Order{}, "prescription_id = ?", p.ID))
}

func TestConfirmPaymentChecksOwnership(t *testing.T) {
	ctx := context.Background()
	mock := newMockProcessor()
	e := newEnv(t, mock)
	p := e.approved(t)
	intent, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)
	mock.Pay(intent.IntentRef)

	_, err = e.recon.ConfirmPayment(ctx, stranger, p.ID, intent.IntentRef)
	require.ErrorIs(t, err, authz.ErrForbidden)

	_, err = e.recon.ConfirmPayment(ctx, customer, 9999, intent.IntentRef)
	require.ErrorIs(t, err, prescriptions.ErrNotFound)
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Send(context.Context, string, notify.Recipient, map[string]any) error {
	f.calls++
	return errors.New("smtp: connection refused")
}

func TestNotificationFailureKeepsPayment(t *testing.T) {
	ctx := context.Background()
	mock := newMockProcessor()
	notifier := &failingNotifier{}

	e := newEnvWith(t, mock, func(db *gorm.DB) notify.Sender {
		return notify.NewDispatcher(users.NewDirectory(db), notifier, nil, logging.Discard())
	})

	p := e.approved(t)
	intent, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)
	mock.Pay(intent.IntentRef)

	res, err := e.recon.ConfirmPayment(ctx, customer, p.ID, intent.IntentRef)
	require.NoError(t, err)
	assert.NotZero(t, res.Order.ID)
	assert.True(t, e.prescription(t, p.ID).IsPaid())
	assert.Positive(t, notifier.calls)
}
