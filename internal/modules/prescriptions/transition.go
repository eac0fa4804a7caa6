package prescriptions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/shared/authz"
)

// Change is one validated move of a prescription plus the columns written
// with it. To == current status is a legal no-op move, used for edits that
// leave the status alone.
type Change struct {
	To     Status
	Actor  authz.Actor
	Action string
	Note   string
	Set    map[string]any
}

// Transition is the only code path that writes prescriptions.status. It must
// run inside tx while p's row is locked; p is reloaded afterwards.
func Transition(ctx context.Context, tx *gorm.DB, p *Prescription, ch Change) error {
	if _, ok := ch.Set["status"]; ok {
		return errors.New("prescriptions: status is written by Transition only")
	}
	from := p.Status
	if err := Validate(from, ch.To); err != nil {
		return err
	}

	now := time.Now()
	updates := make(map[string]any, len(ch.Set)+2)
	for k, v := range ch.Set {
		updates[k] = v
	}
	if from != ch.To {
		updates["status"] = ch.To
	}
	if len(updates) == 0 && ch.Action == "" {
		return nil
	}
	updates["updated_at"] = now

	res := tx.WithContext(ctx).
		Model(&Prescription{}).
		Where("id = ? AND status = ?", p.ID, from). // optimistic guard on top of the row lock
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	if ch.Action != "" {
		var note *string
		if n := strings.TrimSpace(ch.Note); n != "" {
			note = &n
		}
		ev := Event{
			ID:             uuid.NewString(),
			PrescriptionID: p.ID,
			ActorID:        ch.Actor.ID,
			ActorRole:      string(ch.Actor.Role),
			Action:         ch.Action,
			FromStatus:     from,
			ToStatus:       ch.To,
			Note:           note,
			CreatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(&ev).Error; err != nil {
			return err
		}
	}

	fresh, err := get(tx.WithContext(ctx), p.ID)
	if err != nil {
		return err
	}
	*p = fresh
	return nil
}
