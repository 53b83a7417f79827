package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription statuses. Stripe statuses pass through unchanged; Apple
// receipts map to active/expired.
const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
	SubscriptionPastDue  = "past_due"
	SubscriptionUnpaid   = "unpaid"
	SubscriptionExpired  = "expired"
)

// Subscription is the billing-state projection for a user. One row per user;
// webhooks and receipt validation keep it current.
type Subscription struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`

	StripeCustomerID     *string `gorm:"size:255;index" json:"-"`
	StripeSubscriptionID *string `gorm:"size:255;uniqueIndex" json:"-"`
	AppleTransactionID   *string `gorm:"size:255;index" json:"-"`

	Tier   string `gorm:"size:20;not null" json:"tier"`
	Status string `gorm:"size:20;not null;default:'active';index" json:"status"`

	CurrentPeriodStart *time.Time `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `gorm:"index" json:"current_period_end"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// IsCurrentlyActive reports whether the subscription grants access now.
func (s *Subscription) IsCurrentlyActive() bool {
	if s.Status != SubscriptionActive {
		return false
	}
	if s.CurrentPeriodEnd != nil {
		return time.Now().Before(*s.CurrentPeriodEnd)
	}
	return true
}
