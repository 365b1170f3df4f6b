package models

import (
	"time"

	"tvcast/internal/domain"
)

// User is the slice of the account directory the notification engine reads.
// The table is owned by the account service.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:64;not null;default:''" json:"username"`
	Email     string    `gorm:"size:255" json:"email"`
	Role      string    `gorm:"size:20;not null;default:'USER';index" json:"role"`
	FCMToken  string    `gorm:"size:512" json:"-"`
	IsBlocked bool      `gorm:"not null;default:false;index" json:"is_blocked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsAdmin() bool { return u.Role == domain.RoleAdmin }
