package users

import "time"

// User is owned by the identity collaborator; this service only reads it.
type User struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Email     string `gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	Name      string `gorm:"type:varchar(255);not null"`
	Role      string `gorm:"type:varchar(32);not null;index:ix_users_role"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }
