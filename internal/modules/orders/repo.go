package orders

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Get(ctx context.Context, id uint64) (Order, error) {
	return get(ctx, r.db, id)
}

func (r *Repo) GetByPrescription(ctx context.Context, prescriptionID uint64) (Order, error) {
	return GetByPrescriptionTx(ctx, r.db, prescriptionID)
}

// GetByPrescriptionTx reads through tx so it can be used while the
// prescription row is locked.
func GetByPrescriptionTx(ctx context.Context, tx *gorm.DB, prescriptionID uint64) (Order, error) {
	var o Order
	err := tx.WithContext(ctx).First(&o, "prescription_id = ?", prescriptionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// LockForUpdate must run inside tx.
func LockForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (Order, error) {
	return get(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func get(ctx context.Context, db *gorm.DB, id uint64) (Order, error) {
	var o Order
	err := db.WithContext(ctx).First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, ErrNotFound
	}
	return o, err
}

type ListParams struct {
	CustomerID uint64 // zero lists every customer
	Q          string // order number fragment
	Status     Status
	Page       int
	PageSize   int
}

type ListResult struct {
	Items    []Order
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
		size = 30
	}

	base := r.db.WithContext(ctx).Model(&Order{})
	if in.CustomerID != 0 {
		base = base.Where("customer_id = ?", in.CustomerID)
	}
	if in.Status != "" {
		base = base.Where("status = ?", in.Status)
	}
	if q := strings.ToUpper(strings.TrimSpace(in.Q)); q != "" {
		base = base.Where("order_number LIKE ?", "%"+q+"%")
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return ListResult{}, err
	}

	var items []Order
	if err := base.
		Order("created_at DESC").
		Order("id DESC").
		Limit(size).
		Offset((page - 1) * size).
		Find(&items).Error; err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total, Page: page, PageSize: size}, nil
}

// Ledger returns the financial entries of one prescription, newest first.
func (r *Repo) Ledger(ctx context.Context, prescriptionID uint64) ([]FinancialEntry, error) {
	var out []FinancialEntry
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&out, "prescription_id = ?", prescriptionID).Error
	return out, err
}

// EnsureFinancialEntry inserts e unless an entry for the same reference and
// event already exists.
func EnsureFinancialEntry(ctx context.Context, tx *gorm.DB, e FinancialEntry) error {
	var cnt int64
	if err := tx.WithContext(ctx).
		Model(&FinancialEntry{}).
		Where("ref_type = ? AND ref_id = ? AND event = ?", e.RefType, e.RefID, e.Event).
		Count(&cnt).Error; err != nil {
		return err
	}
	if cnt > 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&e).Error
}
