package services

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/models"
	"github.com/mirroros/public-api/internal/principal"
)

var (
	ErrQuotaExceeded = errors.New("daily prediction limit reached")
	ErrUserInactive  = errors.New("user account is inactive")
)

// Daily prediction limits per tier. Unknown tiers fall back to the free
// limit rather than failing open.
const (
	FreeDailyLimit       = 3
	ProDailyLimit        = 50
	EnterpriseDailyLimit = 1000
	DemoDailyLimit       = 10
)

// Hourly rate ceilings reported alongside the daily limits.
const (
	freeHourlyLimit       = 10
	proHourlyLimit        = 100
	enterpriseHourlyLimit = 1000
)

func LimitsForTier(tier string) dto.TierLimitsResponse {
	switch tier {
	case models.TierPro:
		return dto.TierLimitsResponse{PredictionsPerDay: ProDailyLimit, MaxRequestsPerHour: proHourlyLimit}
	case models.TierEnterprise:
		return dto.TierLimitsResponse{PredictionsPerDay: EnterpriseDailyLimit, MaxRequestsPerHour: enterpriseHourlyLimit}
	default:
		return dto.TierLimitsResponse{PredictionsPerDay: FreeDailyLimit, MaxRequestsPerHour: freeHourlyLimit}
	}
}

// QuotaService enforces per-user daily prediction limits. Registered users
// carry their counter on the user row; the demo identity is counted in
// memory because it is never persisted.
type QuotaService struct {
	db *gorm.DB

	demoMu   sync.Mutex
	demoUsed int
	demoDate time.Time
}

func NewQuotaService(db *gorm.DB) *QuotaService {
	return &QuotaService{db: db, demoDate: today()}
}

// CheckAndReserve admits or rejects a prediction attempt for the principal.
// On success one unit of quota is reserved; callers that fail before
// reaching the upstream must hand it back with Release.
//
// The counter never resets lazily on read alone: ResetIfStale runs first so
// a user who exhausted yesterday's quota starts today at zero.
func (s *QuotaService) CheckAndReserve(p *principal.Principal) (remaining int, err error) {
	if p.Demo {
		return s.reserveDemo()
	}

	if err := s.ResetIfStale(p.ID); err != nil {
		return 0, err
	}

	var user models.User
	if err := s.db.First(&user, "id = ?", p.ID).Error; err != nil {
		return 0, ErrUserNotFound
	}
	if !user.IsActive {
		return 0, ErrUserInactive
	}

	limit := LimitsForTier(user.Tier).PredictionsPerDay

	// Guarded increment: the limit check lives in the WHERE clause, so two
	// concurrent requests cannot both claim the last unit.
	result := s.db.Model(&models.User{}).
		Where("id = ? AND predictions_used_today < ?", p.ID, limit).
		Update("predictions_used_today", gorm.Expr("predictions_used_today + 1"))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrQuotaExceeded
	}

	return limit - user.PredictionsUsedToday - 1, nil
}

// Release returns a reserved unit after a failed proxy call. Failures never
// consume quota.
func (s *QuotaService) Release(p *principal.Principal) error {
	if p.Demo {
		s.demoMu.Lock()
		defer s.demoMu.Unlock()
		if s.demoUsed > 0 {
			s.demoUsed--
		}
		return nil
	}

	return s.db.Model(&models.User{}).
		Where("id = ? AND predictions_used_today > 0", p.ID).
		Update("predictions_used_today", gorm.Expr("predictions_used_today - 1")).Error
}

// ResetIfStale zeroes the daily counter once per UTC day. The date guard in
// the WHERE clause makes the reset idempotent under concurrency: only one of
// any number of racing requests performs the reset.
func (s *QuotaService) ResetIfStale(userID uuid.UUID) error {
	return s.db.Model(&models.User{}).
		Where("id = ? AND last_reset_date < ?", userID, today()).
		Updates(map[string]interface{}{
			"predictions_used_today": 0,
			"last_reset_date":        today(),
		}).Error
}

func (s *QuotaService) reserveDemo() (int, error) {
	s.demoMu.Lock()
	defer s.demoMu.Unlock()

	if t := today(); t.After(s.demoDate) {
		s.demoUsed = 0
		s.demoDate = t
	}
	if s.demoUsed >= DemoDailyLimit {
		return 0, ErrQuotaExceeded
	}
	s.demoUsed++
	return DemoDailyLimit - s.demoUsed, nil
}

// Usage reports the principal's current counters without consuming quota.
func (s *QuotaService) Usage(p *principal.Principal) (*dto.UsageResponse, error) {
	if p.Demo {
		s.demoMu.Lock()
		used := s.demoUsed
		if t := today(); t.After(s.demoDate) {
			used = 0
		}
		s.demoMu.Unlock()

		return &dto.UsageResponse{
			Tier:   models.TierFree,
			Limits: dto.TierLimitsResponse{PredictionsPerDay: DemoDailyLimit, MaxRequestsPerHour: freeHourlyLimit},
			Usage:  counters(used, DemoDailyLimit, today()),
		}, nil
	}

	if err := s.ResetIfStale(p.ID); err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.First(&user, "id = ?", p.ID).Error; err != nil {
		return nil, ErrUserNotFound
	}

	limits := LimitsForTier(user.Tier)
	return &dto.UsageResponse{
		Tier:   user.Tier,
		Limits: limits,
		Usage:  counters(user.PredictionsUsedToday, limits.PredictionsPerDay, user.LastResetDate),
	}, nil
}

// PredictionUsage extends Usage with lifetime stats and recent requests.
func (s *QuotaService) PredictionUsage(p *principal.Principal, recentLimit int) (*dto.PredictionUsageResponse, error) {
	if err := s.ResetIfStale(p.ID); err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.First(&user, "id = ?", p.ID).Error; err != nil {
		return nil, ErrUserNotFound
	}

	var total, successful int64
	if err := s.db.Model(&models.PredictionRequest{}).Where("user_id = ?", p.ID).Count(&total).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.PredictionRequest{}).Where("user_id = ? AND success = ?", p.ID, true).Count(&successful).Error; err != nil {
		return nil, err
	}

	var recent []models.PredictionRequest
	if recentLimit <= 0 {
		recentLimit = 10
	}
	if err := s.db.Where("user_id = ?", p.ID).
		Order("created_at DESC").
		Limit(recentLimit).
		Find(&recent).Error; err != nil {
		return nil, err
	}

	records := make([]dto.PredictionRequestRecord, 0, len(recent))
	for _, r := range recent {
		records = append(records, dto.PredictionRequestRecord{
			ID:             r.ID.String(),
			Success:        r.Success,
			ErrorCode:      r.ErrorCode,
			ResponseTimeMs: r.ResponseTimeMs,
			CreatedAt:      r.CreatedAt,
		})
	}

	limits := LimitsForTier(user.Tier)
	successRate := 0.0
	if total > 0 {
		successRate = float64(successful) / float64(total) * 100
	}

	return &dto.PredictionUsageResponse{
		Tier:   user.Tier,
		Limits: limits,
		Usage: dto.PredictionUsageCounters{
			PredictionsUsedToday:      user.PredictionsUsedToday,
			PredictionsRemainingToday: max(limits.PredictionsPerDay-user.PredictionsUsedToday, 0),
			TotalPredictions:          total,
			SuccessfulPredictions:     successful,
			SuccessRatePercent:        successRate,
			CanMakePrediction:         user.PredictionsUsedToday < limits.PredictionsPerDay,
		},
		Recent: records,
	}, nil
}

func counters(used, limit int, resetDate time.Time) dto.UsageCounters {
	remaining := max(limit-used, 0)
	percent := 0.0
	if limit > 0 {
		percent = float64(used) / float64(limit) * 100
	}
	return dto.UsageCounters{
		PredictionsUsedToday:      used,
		PredictionsRemainingToday: remaining,
		DailyUsagePercent:         percent,
		CanMakePrediction:         remaining > 0,
		LastResetDate:             resetDate.Format("2006-01-02"),
	}
}
