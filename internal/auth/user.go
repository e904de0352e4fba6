package auth

import "time"

// Role gates what a user can do; higher values include lower ones.
type Role int

const (
	RoleLocked Role = iota
	RoleUser
	RoleModerator
	RoleDeveloper
)

func (r Role) String() string {
	switch r {
	case RoleLocked:
		return "locked"
	case RoleUser:
		return "user"
	case RoleModerator:
		return "moderator"
	case RoleDeveloper:
		return "developer"
	}
	return "unknown"
}

type User struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	ChatID       int64     `gorm:"not null" json:"chat_id"`
	Name         string    `gorm:"type:text;not null" json:"name"`
	Email        string    `gorm:"uniqueIndex;not null" json:"-"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         Role      `gorm:"not null;default:1" json:"role"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}
