package models

import (
	"time"

	"github.com/google/uuid"
)

// PredictionRequest is the audit ledger for proxy calls. Only a hash of the
// request plus outcome metadata is stored; goal content never lands here.
type PredictionRequest struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	RequestHash    string  `gorm:"size:64;not null;index" json:"-"`
	Success        bool    `gorm:"not null;index" json:"success"`
	ErrorCode      *string `gorm:"size:50" json:"error_code"`
	ResponseTimeMs *int    `json:"response_time_ms"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}
