package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Payment providers.
const (
	ProviderStripe = "stripe"
	ProviderApple  = "apple"
)

// PaymentEvent is an append-only record of a provider webhook delivery or
// receipt validation. ProviderEventID is unique so at-least-once deliveries
// collapse to one row; Processed flips false->true exactly once.
type PaymentEvent struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Provider        string `gorm:"size:20;not null;index" json:"provider"`
	ProviderEventID string `gorm:"size:255;not null;uniqueIndex" json:"provider_event_id"`
	EventType       string `gorm:"size:100;not null;index" json:"event_type"`

	AmountCents int64          `json:"amount_cents"`
	Currency    string         `gorm:"size:10" json:"currency"`
	Payload     datatypes.JSON `json:"-"`

	Processed   bool       `gorm:"not null;default:false" json:"processed"`
	ProcessedAt *time.Time `json:"processed_at"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
}
