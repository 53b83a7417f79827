package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PredictionVector is the opt-in analytics record: full goal text, extracted
// features and the upstream probability breakdown. Logically independent of
// the audit ledger and only written when PREDICTION_ANALYTICS is enabled.
type PredictionVector struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	GoalText  string  `gorm:"type:text;not null" json:"goal_text"`
	Timeframe *string `gorm:"size:100" json:"timeframe,omitempty"`
	Context   *string `gorm:"type:text" json:"context,omitempty"`

	Features    datatypes.JSON `json:"features"`
	Probability float64        `json:"probability"`
	Breakdown   datatypes.JSON `json:"breakdown"`

	// Outcome is backfilled later when the user reports whether the goal
	// happened; nil until then.
	Outcome *bool `json:"outcome,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
