package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mirroros/public-api/internal/config"
	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/models"
	"github.com/mirroros/public-api/internal/principal"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotWhitelisted     = errors.New("email is not whitelisted for registration")
	ErrDemoDisabled       = errors.New("demo mode is disabled")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

type AuthService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewAuthService(db *gorm.DB, cfg *config.Config) *AuthService {
	return &AuthService{db: db, cfg: cfg}
}

// Register creates an account behind the whitelist gate. The whitelist lookup
// and its consumption run in one transaction so a matching entry is burned at
// most once, even under concurrent signups with the same invite.
func (s *AuthService) Register(req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !emailPattern.MatchString(email) {
		return nil, errors.New("invalid email address")
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}

	var existing models.User
	if err := s.db.Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  string(hash),
		Tier:          models.TierFree,
		IsActive:      true,
		LastResetDate: today(),
	}
	if req.FullName != "" {
		name := strings.TrimSpace(req.FullName)
		user.FullName = &name
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		entry, err := findWhitelistEntry(tx, email, req.InviteCode)
		if err != nil {
			return err
		}

		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		// Guarded update: is_used = false in the WHERE clause means a
		// concurrent consumer of the same entry loses the race cleanly.
		now := time.Now()
		result := tx.Model(&models.WhitelistEntry{}).
			Where("id = ? AND is_used = ?", entry.ID, false).
			Updates(map[string]interface{}{
				"is_used": true,
				"used_at": now,
				"used_by": user.ID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotWhitelisted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.generateTokenPair(&user)
}

// findWhitelistEntry resolves the gate for a signup: a direct email entry
// wins, otherwise an unused invite code is accepted for any email.
func findWhitelistEntry(tx *gorm.DB, email, inviteCode string) (*models.WhitelistEntry, error) {
	var entry models.WhitelistEntry
	if err := tx.Where("email = ?", email).First(&entry).Error; err == nil {
		if !entry.IsValid() {
			return nil, ErrNotWhitelisted
		}
		return &entry, nil
	}

	if inviteCode != "" {
		if err := tx.Where("invite_code = ?", inviteCode).First(&entry).Error; err == nil {
			if !entry.IsValid() {
				return nil, ErrNotWhitelisted
			}
			return &entry, nil
		}
	}

	return nil, ErrNotWhitelisted
}

func (s *AuthService) Login(req *dto.LoginRequest) (*dto.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := s.db.Where("email = ? AND is_active = ?", email, true).First(&user).Error; err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	s.db.Model(&user).Update("last_login_at", now)
	user.LastLoginAt = &now

	return s.generateTokenPair(&user)
}

// Refresh rotates the refresh token: the presented one is deactivated and a
// fresh pair is issued, so every refresh token is single use.
func (s *AuthService) Refresh(req *dto.RefreshRequest) (*dto.AuthResponse, error) {
	tokenHash := hashToken(req.RefreshToken)

	var session models.UserSession
	if err := s.db.Where("token_hash = ? AND is_active = ?", tokenHash, true).First(&session).Error; err != nil {
		return nil, ErrInvalidToken
	}

	if time.Now().After(session.ExpiresAt) {
		s.db.Model(&session).Update("is_active", false)
		return nil, ErrInvalidToken
	}

	s.db.Model(&session).Update("is_active", false)

	var user models.User
	if err := s.db.Where("id = ? AND is_active = ?", session.UserID, true).First(&user).Error; err != nil {
		return nil, ErrInvalidToken
	}

	return s.generateTokenPair(&user)
}

func (s *AuthService) Logout(req *dto.LogoutRequest) error {
	tokenHash := hashToken(req.RefreshToken)
	return s.db.Model(&models.UserSession{}).
		Where("token_hash = ?", tokenHash).
		Update("is_active", false).Error
}

// DemoToken issues a short-lived access token for the demo identity. Nothing
// is persisted: demo usage is tracked in memory by the quota service.
func (s *AuthService) DemoToken() (*dto.AuthResponse, error) {
	if !s.cfg.DemoMode {
		return nil, ErrDemoDisabled
	}

	claims := jwt.MapClaims{
		"sub":   principal.DemoSubject,
		"email": principal.DemoEmail,
		"tier":  models.TierFree,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(s.cfg.JWTAccessExpiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign demo token: %w", err)
	}

	return &dto.AuthResponse{
		AccessToken: signed,
		User: dto.UserResponse{
			Email: principal.DemoEmail,
			Tier:  models.TierFree,
		},
	}, nil
}

func (s *AuthService) Profile(userID uuid.UUID) (*dto.UserResponse, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, ErrUserNotFound
	}
	resp := userResponse(&user)
	return &resp, nil
}

func (s *AuthService) UpdateProfile(userID uuid.UUID, req *dto.UpdateProfileRequest) (*dto.UserResponse, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, ErrUserNotFound
	}

	updates := map[string]interface{}{}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		updates["full_name"] = name
		user.FullName = &name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if !emailPattern.MatchString(email) {
			return nil, errors.New("invalid email address")
		}
		var other models.User
		if err := s.db.Where("email = ? AND id <> ?", email, userID).First(&other).Error; err == nil {
			return nil, ErrEmailTaken
		}
		updates["email"] = email
		updates["is_verified"] = false
		user.Email = email
		user.IsVerified = false
	}

	if len(updates) > 0 {
		if err := s.db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update profile: %w", err)
		}
	}

	resp := userResponse(&user)
	return &resp, nil
}

// ChangePassword verifies the current password, swaps the hash and revokes
// every active session so stolen refresh tokens die with the old password.
func (s *AuthService) ChangePassword(userID uuid.UUID, req *dto.ChangePasswordRequest) error {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return ErrUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return ErrInvalidCredentials
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Update("password_hash", string(hash)).Error; err != nil {
			return err
		}
		return tx.Model(&models.UserSession{}).
			Where("user_id = ?", userID).
			Update("is_active", false).Error
	})
}

// DeleteAccount removes the user and every owned row. Payment events are the
// exception: the ledger is append-only and survives account deletion.
func (s *AuthService) DeleteAccount(userID uuid.UUID, password string) error {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return ErrUserNotFound
	}

	if password == "" {
		return errors.New("password is required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		tx.Where("user_id = ?", userID).Delete(&models.UserSession{})
		tx.Where("user_id = ?", userID).Delete(&models.Subscription{})
		tx.Where("user_id = ?", userID).Delete(&models.PredictionRequest{})
		tx.Where("user_id = ?", userID).Delete(&models.PredictionVector{})
		return tx.Delete(&user).Error
	})
}

func (s *AuthService) generateTokenPair(user *models.User) (*dto.AuthResponse, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.generateRefreshToken(user)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userResponse(user),
	}, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"tier":  user.Tier,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(s.cfg.JWTAccessExpiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *AuthService) generateRefreshToken(user *models.User) (string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	rawToken := base64.URLEncoding.EncodeToString(rawBytes)

	record := models.UserSession{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hashToken(rawToken),
		ExpiresAt: time.Now().Add(s.cfg.JWTRefreshExpiry),
		IsActive:  true,
	}
	if err := s.db.Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return rawToken, nil
}

func userResponse(user *models.User) dto.UserResponse {
	return dto.UserResponse{
		ID:                   user.ID,
		Email:                user.Email,
		FullName:             user.FullName,
		Tier:                 user.Tier,
		IsActive:             user.IsActive,
		IsVerified:           user.IsVerified,
		PredictionsUsedToday: user.PredictionsUsedToday,
		CreatedAt:            user.CreatedAt,
		LastLoginAt:          user.LastLoginAt,
	}
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return errors.New("password must contain an uppercase letter, a lowercase letter, and a digit")
	}
	return nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}

// today truncates the clock to a date in UTC, which is the granularity the
// daily quota counter works at.
func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
