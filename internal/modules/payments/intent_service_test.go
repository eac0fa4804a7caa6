package payments_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globlept.co.uk/app/internal/modules/payments"
	"globlept.co.uk/app/internal/modules/payments/mocks"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/pkg/view"
)

func TestCreateIntentReusesLiveIntent(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	proc := mocks.NewMockProcessor(ctrl)
	proc.EXPECT().Name().Return("stripe").AnyTimes()
	proc.EXPECT().CreateIntent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
			assert.Equal(t, int64(1250), req.AmountMinor)
			assert.Equal(t, "GBP", req.Currency)
			assert.Equal(t, customer.ID, req.CustomerID)
			assert.NotEmpty(t, req.IdempotencyKey)
			return payments.Intent{Ref: "pi_123", ClientSecret: "pi_123_secret_abc"}, nil
		}).Times(1)

	e := newEnv(t, proc)
	p := e.approved(t)

	first, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.Equal(t, "pi_123", first.IntentRef)
	assert.Equal(t, "pi_123_secret_abc", first.ClientSecret)
	assert.True(t, first.ExpiresAt.After(time.Now()))

	second, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.IntentRef, second.IntentRef)

	stored := e.prescription(t, p.ID)
	require.NotNil(t, stored.PaymentIntentID)
	assert.Equal(t, "pi_123", *stored.PaymentIntentID)
	assert.Equal(t, prescriptions.StatusApproved, stored.Status)
	assert.Equal(t, int64(1), e.count(t, &prescriptions.Event{}, "prescription_id = ? AND action = ?", p.ID, "payment_intent"))
}

func TestCreateIntentSupersedesExpiredIntent(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	proc := mocks.NewMockProcessor(ctrl)
	proc.EXPECT().Name().Return("stripe").AnyTimes()
	gomock.InOrder(
		proc.EXPECT().CreateIntent(gomock.Any(), gomock.Any()).
			Return(payments.Intent{Ref: "pi_old", ExpiresAt: time.Now().Add(-time.Minute)}, nil),
		proc.EXPECT().CreateIntent(gomock.Any(), gomock.Any()).
			Return(payments.Intent{Ref: "pi_new"}, nil),
	)
	proc.EXPECT().CancelIntent(gomock.Any(), "pi_old").Return(nil)

	e := newEnv(t, proc)
	p := e.approved(t)

	_, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)
	res, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_new", res.IntentRef)
	assert.False(t, res.Reused)

	var rows []payments.PaymentIntent
	require.NoError(t, e.db.Order("created_at").Find(&rows, "prescription_id = ?", p.ID).Error)
	require.Len(t, rows, 2)
	statuses := map[string]string{rows[0].ProviderRef: rows[0].Status, rows[1].ProviderRef: rows[1].Status}
	assert.Equal(t, payments.StatusSuperseded, statuses["pi_old"])
	assert.Equal(t, payments.StatusInitiated, statuses["pi_new"])
	assert.NotEqual(t, rows[0].IdempotencyKey, rows[1].IdempotencyKey)
}

func TestCreateIntentPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("pending is not payable", func(t *testing.T) {
		e := newEnv(t, newMockProcessor())
		p, err := e.rx.Submit(ctx, customer, prescriptions.SubmitInput{
			Medicines: []prescriptions.Medicine{{Name: "Amoxicillin 500mg", Quantity: 21}},
			Quantity:  1,
			DeliveryAddress: prescriptions.Address{
				Name: "Ada Lovelace", Line1: "1 St James's Square", City: "London", Postcode: "SW1Y 4JH", Country: "GB",
			},
		})
		require.NoError(t, err)

		_, err = e.intents.CreateIntent(ctx, customer, p.ID)
		require.ErrorIs(t, err, prescriptions.ErrInvalidState)

		_, err = e.review.Reject(ctx, pharm, p.ID, "illegible signature")
		require.NoError(t, err)
		_, err = e.intents.CreateIntent(ctx, customer, p.ID)
		require.ErrorIs(t, err, prescriptions.ErrInvalidState)

		var se interface{ CurrentStatus() string }
		require.True(t, errors.As(err, &se))
		assert.Equal(t, string(prescriptions.StatusRejected), se.CurrentStatus())
	})

	t.Run("approved without a price", func(t *testing.T) {
		e := newEnv(t, newMockProcessor())
		p, err := e.rx.Submit(ctx, customer, prescriptions.SubmitInput{
			Medicines: []prescriptions.Medicine{{Name: "Amoxicillin 500mg", Quantity: 21}},
			Quantity:  1,
			DeliveryAddress: prescriptions.Address{
				Name: "Ada Lovelace", Line1: "1 St James's Square", City: "London", Postcode: "SW1Y 4JH", Country: "GB",
			},
		})
		require.NoError(t, err)
		_, err = e.review.Approve(ctx, pharm, p.ID, nil)
		require.NoError(t, err)

		_, err = e.intents.CreateIntent(ctx, customer, p.ID)
		require.ErrorIs(t, err, payments.ErrNotPriced)
		require.ErrorIs(t, err, prescriptions.ErrInvalidState)

		_, err = e.review.SetPrice(ctx, pharm, p.ID, decimal.RequireFromString("9.99"))
		require.NoError(t, err)
		res, err := e.intents.CreateIntent(ctx, customer, p.ID)
		require.NoError(t, err)
		assert.True(t, res.Amount.Equal(decimal.RequireFromString("9.99")))
	})

	t.Run("ready is shown and treated as not payable", func(t *testing.T) {
		e := newEnv(t, newMockProcessor())
		p := e.approved(t)
		assert.True(t, view.NewPrescription(p, nil).Payable)

		p, err := e.review.MarkReady(ctx, pharm, p.ID)
		require.NoError(t, err)
		assert.False(t, view.NewPrescription(p, nil).Payable)

		_, err = e.intents.CreateIntent(ctx, customer, p.ID)
		var se *prescriptions.StateError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, prescriptions.StatusReady, se.Current)
	})

	t.Run("unpriced approval is not shown as payable", func(t *testing.T) {
		p := prescriptions.Prescription{Status: prescriptions.StatusApproved, PaymentStatus: prescriptions.PaymentUnpaid}
		assert.True(t, p.AwaitingPayment())
		assert.False(t, p.Payable())
		assert.False(t, view.NewPrescription(p, nil).Payable)
	})

	t.Run("someone else's prescription", func(t *testing.T) {
		e := newEnv(t, newMockProcessor())
		p := e.approved(t)
		_, err := e.intents.CreateIntent(ctx, stranger, p.ID)
		require.ErrorIs(t, err, authz.ErrForbidden)
	})

	t.Run("unknown prescription", func(t *testing.T) {
		e := newEnv(t, newMockProcessor())
		_, err := e.intents.CreateIntent(ctx, customer, 4242)
		require.ErrorIs(t, err, prescriptions.ErrNotFound)
	})

	t.Run("already paid", func(t *testing.T) {
		mock := newMockProcessor()
		e := newEnv(t, mock)
		p := e.approved(t)
		intent, err := e.intents.CreateIntent(ctx, customer, p.ID)
		require.NoError(t, err)
		mock.Pay(intent.IntentRef)
		_, err = e.recon.ConfirmPayment(ctx, customer, p.ID, intent.IntentRef)
		require.NoError(t, err)

		_, err = e.intents.CreateIntent(ctx, customer, p.ID)
		require.ErrorIs(t, err, prescriptions.ErrInvalidState)
	})
}

func TestCreateIntentProviderFailure(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	proc := mocks.NewMockProcessor(ctrl)
	proc.EXPECT().Name().Return("stripe").AnyTimes()
	proc.EXPECT().CreateIntent(gomock.Any(), gomock.Any()).
		Return(payments.Intent{}, errors.New("stripe: 503 service unavailable"))

	e := newEnv(t, proc)
	p := e.approved(t)

	_, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.ErrorIs(t, err, payments.ErrProviderUnavailable)

	stored := e.prescription(t, p.ID)
	assert.Nil(t, stored.PaymentIntentID)
	assert.Equal(t, prescriptions.StatusApproved, stored.Status)
	assert.Equal(t, int64(0), e.count(t, &payments.PaymentIntent{}, "prescription_id = ?", p.ID))
}

func TestCreateIntentCancelsWhenPriceMovedDuringCall(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	proc := mocks.NewMockProcessor(ctrl)
	proc.EXPECT().Name().Return("stripe").AnyTimes()

	var e env
	proc.EXPECT().CreateIntent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, payments.IntentRequest) (payments.Intent, error) {
			// Staff reprice while the processor call is in flight.
			require.NoError(t, e.db.Model(&prescriptions.Prescription{}).
				Where("id = ?", uint64(1)).Update("amount", decimal.RequireFromString("20.00")).Error)
			return payments.Intent{Ref: "pi_stale"}, nil
		})
	proc.EXPECT().CancelIntent(gomock.Any(), "pi_stale").Return(nil)

	e = newEnv(t, proc)
	p := e.approved(t)
	require.Equal(t, uint64(1), p.ID)

	_, err := e.intents.CreateIntent(ctx, customer, p.ID)
	require.ErrorIs(t, err, prescriptions.ErrConcurrentUpdate)
	assert.Nil(t, e.prescription(t, p.ID).PaymentIntentID)
	assert.Equal(t, int64(0), e.count(t, &payments.PaymentIntent{}, "prescription_id = ?", p.ID))
}

func TestOverlappingCreateIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("each attempt gets its own key", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		proc := mocks.NewMockProcessor(ctrl)
		proc.EXPECT().Name().Return("stripe").AnyTimes()

		var (
			e     env
			keys  []string
			calls int
			inner payments.CreateIntentResult
		)
		proc.EXPECT().CreateIntent(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
				calls++
				n := calls
				keys = append(keys, req.IdempotencyKey)
				if n == 1 {
					// A second tab asks while this call is still in flight.
					var err error
					inner, err = e.intents.CreateIntent(ctx, customer, req.PrescriptionID)
					require.NoError(t, err)
				}
				return payments.Intent{Ref: fmt.Sprintf("pi_%d", n)}, nil
			}).Times(2)
		proc.EXPECT().CancelIntent(gomock.Any(), "pi_2").Return(nil)

		e = newEnv(t, proc)
		p := e.approved(t)

		outer, err := e.intents.CreateIntent(ctx, customer, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "pi_2", inner.IntentRef)
		assert.Equal(t, "pi_1", outer.IntentRef)

		require.Len(t, keys, 2)
		assert.NotEqual(t, keys[0], keys[1])
		for _, k := range keys {
			assert.LessOrEqual(t, len(k), 64)
		}

		stored := e.prescription(t, p.ID)
		require.NotNil(t, stored.PaymentIntentID)
		assert.Equal(t, "pi_1", *stored.PaymentIntentID)
		var row payments.PaymentIntent
		require.NoError(t, e.db.First(&row, "provider_ref = ?", "pi_2").Error)
		assert.Equal(t, payments.StatusSuperseded, row.Status)
	})

	t.Run("a shared processor intent stays open", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		proc := mocks.NewMockProcessor(ctrl)
		proc.EXPECT().Name().Return("stripe").AnyTimes()

		var (
			e     env
			calls int
		)
		// The processor answers both requests with the same intent. No
		// CancelIntent expectation: cancelling it would fail the test.
		proc.EXPECT().CreateIntent(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
				calls++
				if calls == 1 {
					_, err := e.intents.CreateIntent(ctx, customer, req.PrescriptionID)
					require.NoError(t, err)
				}
				return payments.Intent{Ref: "pi_shared"}, nil
			}).Times(2)

		e = newEnv(t, proc)
		p := e.approved(t)

		_, err := e.intents.CreateIntent(ctx, customer, p.ID)
		require.ErrorIs(t, err, payments.ErrPersistence)

		stored := e.prescription(t, p.ID)
		require.NotNil(t, stored.PaymentIntentID)
		assert.Equal(t, "pi_shared", *stored.PaymentIntentID)
		var row payments.PaymentIntent
		require.NoError(t, e.db.First(&row, "provider_ref = ?", "pi_shared").Error)
		assert.Equal(t, payments.StatusInitiated, row.Status)

		again, err := e.intents.CreateIntent(ctx, customer, p.ID)
		require.NoError(t, err)
		assert.True(t, again.Reused)
		assert.Equal(t, "pi_shared", again.IntentRef)
	})
}
