package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tiers.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// User is the account row. The daily usage counter and its reset date live
// here so a quota check touches a single row.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	FullName     *string   `gorm:"size:255" json:"full_name"`

	Tier       string `gorm:"size:20;not null;default:'free';index" json:"tier"`
	IsActive   bool   `gorm:"not null;default:true" json:"is_active"`
	IsVerified bool   `gorm:"not null;default:false" json:"is_verified"`

	PredictionsUsedToday int       `gorm:"not null;default:0" json:"predictions_used_today"`
	LastResetDate        time.Time `gorm:"type:date;not null" json:"last_reset_date"`

	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `gorm:"index" json:"last_login_at"`
}
