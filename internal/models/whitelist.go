package models

import (
	"time"

	"github.com/google/uuid"
)

// WhitelistEntry gates registration while the service runs invite-only. An
// entry is consumed at most once: is_used flips true and used_by/used_at are
// set in the same guarded update.
type WhitelistEntry struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email      string     `gorm:"size:255;not null;uniqueIndex" json:"email"`
	InviteCode *string    `gorm:"size:50;uniqueIndex" json:"invite_code,omitempty"`
	InvitedBy  *uuid.UUID `gorm:"type:uuid" json:"invited_by,omitempty"`
	Notes      *string    `gorm:"type:text" json:"notes,omitempty"`

	IsUsed bool       `gorm:"not null;default:false;index" json:"is_used"`
	UsedAt *time.Time `json:"used_at"`
	UsedBy *uuid.UUID `gorm:"type:uuid" json:"used_by,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`
}

func (WhitelistEntry) TableName() string {
	return "whitelist"
}

// IsValid reports whether the entry can still be consumed.
func (w *WhitelistEntry) IsValid() bool {
	if w.IsUsed {
		return false
	}
	if w.ExpiresAt != nil && time.Now().After(*w.ExpiresAt) {
		return false
	}
	return true
}
