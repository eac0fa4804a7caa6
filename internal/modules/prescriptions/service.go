package prescriptions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/internal/shared/money"
	"globlept.co.uk/app/internal/shared/sanitize"
	"globlept.co.uk/app/internal/storage"
)

// Document is an upload attached at submission time.
type Document struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type SubmitInput struct {
	CustomerID      uint64           `json:"customer_id"` // staff submitting on behalf of a customer
	Medicines       []Medicine       `json:"medicines" binding:"required,min=1,max=20,dive"`
	Quantity        int              `json:"quantity" binding:"omitempty,min=1,max=1000"`
	Dosage          string           `json:"dosage" binding:"max=255"`
	Instructions    string           `json:"instructions" binding:"max=2000"`
	DeliveryAddress Address          `json:"delivery_address"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	Documents       []Document       `json:"-" binding:"max=5"`
}

// IntentReleaser retires payment intents when a prescription stops being
// payable. ReleaseIntents runs inside the caller's transaction;
// CancelAtProvider runs after commit and never fails the caller.
type IntentReleaser interface {
	ReleaseIntents(ctx context.Context, tx *gorm.DB, prescriptionID uint64) ([]string, error)
	CancelAtProvider(ctx context.Context, refs []string)
}

type Service struct {
	db       *gorm.DB
	repo     *Repo
	docs     storage.Storage
	notify   notify.Sender
	intents  IntentReleaser
	currency string
	logger   *slog.Logger
}

func NewService(db *gorm.DB, docs storage.Storage, n notify.Sender, currency string) *Service {
	if currency == "" {
		currency = money.DefaultCurrency
	}
	return &Service{
		db:       db,
		repo:     NewRepo(db),
		docs:     docs,
		notify:   n,
		currency: currency,
		logger:   slog.Default(),
	}
}

func (s *Service) SetLogger(logger *slog.Logger) { s.logger = logger }

func (s *Service) SetIntentReleaser(r IntentReleaser) { s.intents = r }

// Submit records a new prescription in pending/unpaid. Staff may submit on a
// customer's behalf and may price it at the same time.
func (s *Service) Submit(ctx context.Context, actor authz.Actor, in SubmitInput) (Prescription, error) {
	if err := authz.Require(actor, authz.Anyone...); err != nil {
		return Prescription{}, err
	}

	customerID := actor.ID
	if actor.Is(authz.Staff...) {
		if in.CustomerID == 0 {
			return Prescription{}, invalidField("customer_id", "is required when submitting for a customer")
		}
		customerID = in.CustomerID
	} else if in.Price != nil {
		return Prescription{}, fmt.Errorf("%w: only staff may price a prescription", authz.ErrForbidden)
	}

	if err := validateStruct(in); err != nil {
		return Prescription{}, err
	}
	amount := decimal.Zero
	if in.Price != nil {
		if err := money.ValidatePrice(*in.Price); err != nil {
			return Prescription{}, invalidField("price", err.Error())
		}
		amount = *in.Price
	}

	meds := make([]Medicine, len(in.Medicines))
	for i, m := range in.Medicines {
		meds[i] = Medicine{Name: sanitize.Line(m.Name), Quantity: m.Quantity, Dosage: sanitize.Line(m.Dosage)}
		if meds[i].Name == "" {
			return Prescription{}, invalidField(fmt.Sprintf("medicines[%d].name", i), "is required")
		}
	}
	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}
	addr := in.DeliveryAddress
	addr.Name = sanitize.Line(addr.Name)
	addr.Line1 = sanitize.Line(addr.Line1)
	addr.Line2 = sanitize.Line(addr.Line2)
	addr.City = sanitize.Line(addr.City)
	addr.Postcode = sanitize.Line(addr.Postcode)

	keys, err := s.storeDocuments(ctx, in.Documents)
	if err != nil {
		return Prescription{}, err
	}

	p := Prescription{
		CustomerID:      customerID,
		Medicines:       datatypes.NewJSONSlice(meds),
		Quantity:        qty,
		Dosage:          sanitize.Line(in.Dosage),
		Instructions:    sanitize.Text(in.Instructions),
		Documents:       datatypes.NewJSONSlice(keys),
		DeliveryAddress: datatypes.NewJSONType(addr),
		Amount:          amount,
		Currency:        s.currency,
		PaymentStatus:   PaymentUnpaid,
		Status:          StatusPending,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		note := ""
		if in.Price != nil {
			note = "priced at submission: " + amount.StringFixed(2)
		}
		return tx.Create(&Event{
			ID:             uuid.NewString(),
			PrescriptionID: p.ID,
			ActorID:        actor.ID,
			ActorRole:      string(actor.Role),
			Action:         "submit",
			FromStatus:     StatusPending,
			ToStatus:       StatusPending,
			Note:           optional(note),
			CreatedAt:      p.CreatedAt,
		}).Error
	})
	if err != nil {
		s.discardDocuments(ctx, keys)
		return Prescription{}, err
	}

	s.logger.InfoContext(ctx, "prescription submitted",
		"prescription_id", p.ID, "customer_id", customerID, "actor_id", actor.ID, "documents", len(keys))
	return p, nil
}

func (s *Service) storeDocuments(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}
	if s.docs == nil {
		return nil, errors.New("prescriptions: document store not configured")
	}
	keys := make([]string, 0, len(docs))
	for i, d := range docs {
		res, err := s.docs.Put(ctx, d.Body, storage.PutInput{Filename: d.Filename, ContentType: d.ContentType, Size: d.Size})
		if err != nil {
			s.discardDocuments(ctx, keys)
			if errors.Is(err, storage.ErrUnsupportedType) || errors.Is(err, storage.ErrTooLarge) {
				return nil, invalidField(fmt.Sprintf("documents[%d]", i), err.Error())
			}
			return nil, fmt.Errorf("store document: %w", err)
		}
		keys = append(keys, res.Key)
	}
	return keys, nil
}

func (s *Service) discardDocuments(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := s.docs.Delete(ctx, k); err != nil {
			s.logger.WarnContext(ctx, "orphaned prescription document", "key", k, "err", err)
		}
	}
}

// DocumentURL resolves a stored key for display.
func (s *Service) DocumentURL(key string) string {
	if s.docs == nil {
		return ""
	}
	return s.docs.URL(key)
}

// Get lets the owner or any staff member read a prescription.
func (s *Service) Get(ctx context.Context, actor authz.Actor, id uint64) (Prescription, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Prescription{}, err
	}
	if err := authz.RequireOwnerOr(actor, p.CustomerID, authz.Staff...); err != nil {
		return Prescription{}, err
	}
	return p, nil
}

func (s *Service) History(ctx context.Context, actor authz.Actor, id uint64) ([]Event, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, id)
}

func (s *Service) ListForCustomer(ctx context.Context, actor authz.Actor, status Status, page, size int) (ListResult, error) {
	if err := authz.Require(actor, authz.Anyone...); err != nil {
		return ListResult{}, err
	}
	return s.repo.List(ctx, ListParams{CustomerID: actor.ID, Status: status, Page: page, PageSize: size})
}

// ListForStaff is the review queue. AssigneeID narrows it to one pharmacist.
func (s *Service) ListForStaff(ctx context.Context, actor authz.Actor, in ListParams) (ListResult, error) {
	if err := authz.Require(actor, authz.Staff...); err != nil {
		return ListResult{}, err
	}
	return s.repo.List(ctx, in)
}

// Cancel lets the owner withdraw a prescription before paying. Any live
// payment intent is retired in the same transaction.
func (s *Service) Cancel(ctx context.Context, actor authz.Actor, id uint64) (Prescription, error) {
	var (
		p    Prescription
		refs []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, err = LockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := authz.RequireOwner(actor, p.CustomerID); err != nil {
			return err
		}
		if p.IsPaid() || (p.Status != StatusPending && p.Status != StatusApproved) {
			return NewStateError("cancel", p.Status)
		}
		if s.intents != nil {
			if refs, err = s.intents.ReleaseIntents(ctx, tx, p.ID); err != nil {
				return err
			}
		}
		return Transition(ctx, tx, &p, Change{
			To:     StatusCancelled,
			Actor:  actor,
			Action: "cancel",
			Set:    map[string]any{"payment_intent_id": nil},
		})
	})
	if err != nil {
		return Prescription{}, err
	}
	if s.intents != nil && len(refs) > 0 {
		s.intents.CancelAtProvider(ctx, refs)
	}
	s.logger.InfoContext(ctx, "prescription cancelled", "prescription_id", id, "actor_id", actor.ID)
	return p, nil
}

// Delete is admin cleanup, allowed only for pending or rejected records.
func (s *Service) Delete(ctx context.Context, actor authz.Actor, id uint64) error {
	if err := authz.Require(actor, authz.Admins...); err != nil {
		return err
	}
	var docs []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := LockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusPending && p.Status != StatusRejected {
			return NewStateError("delete", p.Status)
		}
		docs = p.Documents
		if err := tx.Where("prescription_id = ?", id).Delete(&Event{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Prescription{}, "id = ?", id).Error
	})
	if err != nil {
		return err
	}
	if s.docs != nil {
		s.discardDocuments(ctx, docs)
	}
	s.logger.InfoContext(ctx, "prescription deleted", "prescription_id", id, "actor_id", actor.ID)
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
