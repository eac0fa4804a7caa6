package prescriptions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/logging"
	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/modules/users"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/internal/storage"
	"globlept.co.uk/app/internal/testutil"
)

var (
	customer = authz.Actor{ID: 100, Role: authz.RoleCustomer}
	stranger = authz.Actor{ID: 101, Role: authz.RoleCustomer}
	pharm    = authz.Actor{ID: 1, Role: authz.RoleStaff}
	admin    = authz.Actor{ID: 2, Role: authz.RoleAdmin}
)

type sentNote struct {
	CustomerID uint64
	Template   string
	Data       map[string]any
}

type recordingSender struct {
	mu    sync.Mutex
	notes []sentNote
}

func (r *recordingSender) NotifyCustomer(_ context.Context, customerID uint64, templateID string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, sentNote{customerID, templateID, data})
}

func (r *recordingSender) NotifyStaff(context.Context, notify.StaffMessage) {}

func (r *recordingSender) templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Template
	}
	return out
}

type fakeReleaser struct {
	released  []uint64
	cancelled []string
}

func (f *fakeReleaser) ReleaseIntents(_ context.Context, tx *gorm.DB, id uint64) ([]string, error) {
	f.released = append(f.released, id)
	return []string{"pi_old"}, nil
}

func (f *fakeReleaser) CancelAtProvider(_ context.Context, refs []string) {
	f.cancelled = append(f.cancelled, refs...)
}

type env struct {
	db     *gorm.DB
	svc    *Service
	review *ReviewService
	sent   *recordingSender
	docs   *storage.Local
}

func newEnv(t *testing.T) env {
	t.Helper()
	db := testutil.NewDB(t, &Prescription{}, &Event{}, &users.User{})
	require.NoError(t, db.Create([]users.User{
		{ID: 1, Email: "pharm@globlept.co.uk", Name: "Pharm", Role: "staff"},
		{ID: 2, Email: "admin@globlept.co.uk", Name: "Admin", Role: "admin"},
		{ID: 100, Email: "ada@example.com", Name: "Ada", Role: "customer"},
	}).Error)

	sent := &recordingSender{}
	docs := storage.NewLocal(t.TempDir(), "/documents")
	svc := NewService(db, docs, sent, "GBP")
	svc.SetLogger(logging.Discard())
	review := NewReviewService(db, users.NewDirectory(db), sent)
	review.SetLogger(logging.Discard())
	return env{db: db, svc: svc, review: review, sent: sent, docs: docs}
}

func validInput() SubmitInput {
	return SubmitInput{
		Medicines: []Medicine{{Name: "Amoxicillin 500mg", Quantity: 21, Dosage: "1 capsule three times daily"}},
		Quantity:  1,
		DeliveryAddress: Address{
			Name: "Ada Lovelace", Line1: "1 St James's Square", City: "London", Postcode: "SW1Y 4JH", Country: "GB",
		},
	}
}

func (e env) submit(t *testing.T) Prescription {
	t.Helper()
	p, err := e.svc.Submit(context.Background(), customer, validInput())
	require.NoError(t, err)
	return p
}
