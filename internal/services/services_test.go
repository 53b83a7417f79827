package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mirroros/public-api/internal/config"
	"github.com/mirroros/public-api/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.AutoMigrate(
		&models.User{},
		&models.UserSession{},
		&models.Subscription{},
		&models.PaymentEvent{},
		&models.WhitelistEntry{},
		&models.PredictionRequest{},
		&models.PredictionVector{},
	); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		JWTSecret:        "test-secret",
		JWTAccessExpiry:  time.Hour,
		JWTRefreshExpiry: 24 * time.Hour,
		DemoMode:         true,
		StripePriceIDs:   map[string]string{"price_pro": "pro", "price_ent": "enterprise"},
		AppleProductIDs:  map[string]string{"com.mirroros.pro.monthly": "pro"},
	}
}

func createTestUser(t *testing.T, db *gorm.DB, email, tier string) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("Password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &models.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  string(hash),
		Tier:          tier,
		IsActive:      true,
		LastResetDate: today(),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func whitelistEmail(t *testing.T, db *gorm.DB, email string) *models.WhitelistEntry {
	t.Helper()

	entry := &models.WhitelistEntry{
		ID:    uuid.New(),
		Email: email,
	}
	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("create whitelist entry: %v", err)
	}
	return entry
}
