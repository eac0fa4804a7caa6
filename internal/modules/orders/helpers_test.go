package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/logging"
	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/internal/testutil"
)

var (
	customer = authz.Actor{ID: 100, Role: authz.RoleCustomer}
	stranger = authz.Actor{ID: 101, Role: authz.RoleCustomer}
	pharm    = authz.Actor{ID: 1, Role: authz.RoleStaff}
	super    = authz.Actor{ID: 3, Role: authz.RoleSupervisor}
)

type recordingSender struct {
	mu    sync.Mutex
	notes []map[string]any
	ids   []string
}

func (r *recordingSender) NotifyCustomer(_ context.Context, _ uint64, templateID string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, templateID)
	r.notes = append(r.notes, data)
}

func (r *recordingSender) NotifyStaff(context.Context, notify.StaffMessage) {}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.NewDB(t, &Order{}, &FinancialEntry{}, &prescriptions.Prescription{}, &prescriptions.Event{})
}

// paidPrescription inserts a prescription as it looks right after payment.
func paidPrescription(t *testing.T, db *gorm.DB) prescriptions.Prescription {
	t.Helper()
	ref := "pi_test_1"
	now := time.Now()
	p := prescriptions.Prescription{
		CustomerID: customer.ID,
		Medicines:  datatypes.NewJSONSlice([]prescriptions.Medicine{{Name: "Sertraline 50mg", Quantity: 28}}),
		Quantity:   1,
		DeliveryAddress: datatypes.NewJSONType(prescriptions.Address{
			Name: "Ada Lovelace", Line1: "1 St James's Square", City: "London", Postcode: "SW1Y 4JH", Country: "GB",
		}),
		Amount:           decimal.RequireFromString("12.50"),
		Currency:         "GBP",
		PaymentStatus:    prescriptions.PaymentPaid,
		Status:           prescriptions.StatusPaid,
		PaymentIntentID:  &ref,
		PaymentReference: &ref,
		PaidAt:           &now,
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func newMaterializer() *Materializer {
	m := NewMaterializer()
	m.SetLogger(logging.Discard())
	return m
}

// placeOrder materializes an order for a fresh paid prescription.
func placeOrder(t *testing.T, db *gorm.DB) (Order, prescriptions.Prescription) {
	t.Helper()
	p := paidPrescription(t, db)
	var o Order
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		o, err = newMaterializer().Materialize(context.Background(), tx, SnapshotOf(p))
		return err
	})
	require.NoError(t, err)
	return o, p
}

func reloadPrescription(t *testing.T, db *gorm.DB, id uint64) prescriptions.Prescription {
	t.Helper()
	var p prescriptions.Prescription
	require.NoError(t, db.First(&p, "id = ?", id).Error)
	return p
}
