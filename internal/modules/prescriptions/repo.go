package prescriptions

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Get(ctx context.Context, id uint64) (Prescription, error) {
	return get(r.db.WithContext(ctx), id)
}

// LockForUpdate reads the row with SELECT ... FOR UPDATE. Every mutation of
// a prescription serialises here.
func LockForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (Prescription, error) {
	return get(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func get(db *gorm.DB, id uint64) (Prescription, error) {
	var p Prescription
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Prescription{}, ErrNotFound
		}
		return Prescription{}, err
	}
	return p, nil
}

// FindIDByPaymentIntent resolves the prescription carrying ref as its live
// or historical intent reference.
func (r *Repo) FindIDByPaymentIntent(ctx context.Context, ref string) (uint64, error) {
	var p Prescription
	err := r.db.WithContext(ctx).Select("id").First(&p, "payment_intent_id = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	return p.ID, err
}

type ListParams struct {
	CustomerID uint64 // zero lists every customer (staff queue)
	AssigneeID uint64
	Status     Status
	Page       int
	PageSize   int
}

type ListResult struct {
	Items    []Prescription
	Total    int64
	Page     int
	PageSize int
}

func (r *Repo) List(ctx context.Context, in ListParams) (ListResult, error) {
	page := in.Page
	if page < 1 {
		page = 1
	}
	size := in.PageSize
	if size < 1 || size > 100 {
		size = 20
	}

	q := r.db.WithContext(ctx).Model(&Prescription{})
	if in.CustomerID != 0 {
		q = q.Where("customer_id = ?", in.CustomerID)
	}
	if in.AssigneeID != 0 {
		q = q.Where("staff_assignee_id = ?", in.AssigneeID)
	}
	if in.Status != "" {
		q = q.Where("status = ?", in.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return ListResult{}, err
	}

	var items []Prescription
	if err := q.Order("created_at DESC").Order("id DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&items).Error; err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total, Page: page, PageSize: size}, nil
}

func (r *Repo) Events(ctx context.Context, id uint64) ([]Event, error) {
	var out []Event
	err := r.db.WithContext(ctx).
		Where("prescription_id = ?", id).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
