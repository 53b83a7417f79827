package dto

import "time"

type PredictRequest struct {
	Goal      string                 `json:"goal"`
	Timeframe string                 `json:"timeframe,omitempty"`
	Context   string                 `json:"context,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// PredictMetadata is attached to successful proxy responses.
type PredictMetadata struct {
	UserTier                  string `json:"user_tier"`
	ResponseTimeMs            int    `json:"response_time_ms"`
	RequestID                 string `json:"request_id"`
	PredictionsRemainingToday int    `json:"predictions_remaining_today"`
}

type TierLimitsResponse struct {
	PredictionsPerDay  int `json:"predictions_per_day"`
	MaxRequestsPerHour int `json:"max_requests_per_hour"`
}

type UsageResponse struct {
	Tier   string             `json:"tier"`
	Limits TierLimitsResponse `json:"limits"`
	Usage  UsageCounters      `json:"usage"`
}

type UsageCounters struct {
	PredictionsUsedToday      int     `json:"predictions_used_today"`
	PredictionsRemainingToday int     `json:"predictions_remaining_today"`
	DailyUsagePercent         float64 `json:"daily_usage_percent"`
	CanMakePrediction         bool    `json:"can_make_prediction"`
	LastResetDate             string  `json:"last_reset_date,omitempty"`
}

type PredictionUsageResponse struct {
	Tier   string                    `json:"tier"`
	Limits TierLimitsResponse        `json:"limits"`
	Usage  PredictionUsageCounters   `json:"usage"`
	Recent []PredictionRequestRecord `json:"recent_requests"`
}

type PredictionUsageCounters struct {
	PredictionsUsedToday      int     `json:"predictions_used_today"`
	PredictionsRemainingToday int     `json:"predictions_remaining_today"`
	TotalPredictions          int64   `json:"total_predictions"`
	SuccessfulPredictions     int64   `json:"successful_predictions"`
	SuccessRatePercent        float64 `json:"success_rate_percent"`
	CanMakePrediction         bool    `json:"can_make_prediction"`
}

type PredictionRequestRecord struct {
	ID             string    `json:"id"`
	Success        bool      `json:"success"`
	ErrorCode      *string   `json:"error_code"`
	ResponseTimeMs *int      `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
