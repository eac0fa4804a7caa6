package users

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"globlept.co.uk/app/internal/shared/authz"
)

var ErrNotFound = errors.New("user not found")

// Directory resolves actors to contact details and checks staff membership.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory { return &Directory{db: db} }

func (d *Directory) Get(ctx context.Context, id uint64) (User, error) {
	return d.get(d.db.WithContext(ctx), id)
}

// GetTx reads through an open transaction.
func (d *Directory) GetTx(tx *gorm.DB, id uint64) (User, error) {
	return d.get(tx, id)
}

func (d *Directory) get(db *gorm.DB, id uint64) (User, error) {
	var u User
	if err := db.First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// IsStaff reports whether id belongs to someone who can work prescriptions.
func (d *Directory) IsStaff(tx *gorm.DB, id uint64) (bool, error) {
	u, err := d.get(tx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return authz.Actor{ID: u.ID, Role: authz.Role(u.Role)}.Is(authz.Staff...), nil
}
