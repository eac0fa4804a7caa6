package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/database"
	"globlept.co.uk/app/internal/modules/prescriptions"
)

const (
	maxNumberAttempts       = 5
	EstimatedDeliveryWindow = 7 * 24 * time.Hour
)

// Snapshot is the slice of a paid prescription copied onto its order.
type Snapshot struct {
	PrescriptionID   uint64
	CustomerID       uint64
	Amount           decimal.Decimal
	Currency         string
	DeliveryAddress  prescriptions.Address
	PaymentIntentID  *string
	ChargeID         *string
	PaymentReference *string
}

// SnapshotOf copies the commercial fields of p.
func SnapshotOf(p prescriptions.Prescription) Snapshot {
	return Snapshot{
		PrescriptionID:   p.ID,
		CustomerID:       p.CustomerID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		DeliveryAddress:  p.DeliveryAddress.Data(),
		PaymentIntentID:  p.PaymentIntentID,
		ChargeID:         p.ChargeID,
		PaymentReference: p.PaymentReference,
	}
}

// Materializer inserts the order for a freshly paid prescription. It never
// opens its own transaction: the caller's tx must also hold the
// prescription's row lock.
type Materializer struct {
	number NumberGenerator
	now    func() time.Time
	logger *slog.Logger
}

func NewMaterializer() *Materializer {
	return &Materializer{number: ULIDNumber, now: time.Now, logger: slog.Default()}
}

func (m *Materializer) SetLogger(logger *slog.Logger) { m.logger = logger }

// SetNumberGenerator replaces the order number source. Tests use it to force
// collisions.
func (m *Materializer) SetNumberGenerator(g NumberGenerator) { m.number = g }

func (m *Materializer) SetClock(now func() time.Time) { m.now = now }

func (m *Materializer) Materialize(ctx context.Context, tx *gorm.DB, s Snapshot) (Order, error) {
	if s.PrescriptionID == 0 || !s.Amount.IsPositive() {
		return Order{}, fmt.Errorf("materialize: incomplete snapshot for prescription %d", s.PrescriptionID)
	}

	var existing int64
	if err := tx.WithContext(ctx).Model(&Order{}).
		Where("prescription_id = ?", s.PrescriptionID).
		Count(&existing).Error; err != nil {
		return Order{}, err
	}
	if existing > 0 {
		return Order{}, ErrAlreadyExists
	}

	now := m.now()
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		number := m.number(now)

		var taken int64
		if err := tx.WithContext(ctx).Model(&Order{}).
			Where("order_number = ?", number).
			Count(&taken).Error; err != nil {
			return Order{}, err
		}
		if taken > 0 {
			m.logger.WarnContext(ctx, "order number collision", "order_number", number, "attempt", attempt)
			continue
		}

		o := Order{
			OrderNumber:       number,
			PrescriptionID:    s.PrescriptionID,
			CustomerID:        s.CustomerID,
			TotalAmount:       s.Amount,
			Currency:          s.Currency,
			DeliveryAddress:   datatypes.NewJSONType(s.DeliveryAddress),
			EstimatedDelivery: now.Add(EstimatedDeliveryWindow),
			PaymentIntentID:   s.PaymentIntentID,
			ChargeID:          s.ChargeID,
			PaymentReference:  s.PaymentReference,
			PaidAt:            now,
			Status:            StatusConfirmed,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		// Nested so a duplicate-key failure rolls back to a savepoint and
		// leaves the outer transaction usable.
		err := tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
			return sp.Create(&o).Error
		})
		if err == nil {
			return o, nil
		}
		if !database.IsDuplicateKey(err) {
			return Order{}, err
		}
		m.logger.WarnContext(ctx, "order number collision on insert", "order_number", number, "attempt", attempt)
	}
	return Order{}, ErrOrderNumberExhausted
}
