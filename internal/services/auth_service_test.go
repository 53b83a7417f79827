package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/models"
)

func TestRegisterConsumesWhitelistEntryOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())
	whitelistEmail(t, db, "invited@example.com")

	resp, err := svc.Register(&dto.RegisterRequest{
		Email:    "invited@example.com",
		Password: "Password123",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected token pair")
	}
	if resp.User.Tier != models.TierFree {
		t.Fatalf("new users must start on free, got %q", resp.User.Tier)
	}

	var entry models.WhitelistEntry
	if err := db.Where("email = ?", "invited@example.com").First(&entry).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if !entry.IsUsed || entry.UsedBy == nil || entry.UsedAt == nil {
		t.Fatalf("entry not consumed: used=%v used_by=%v used_at=%v", entry.IsUsed, entry.UsedBy, entry.UsedAt)
	}
	if *entry.UsedBy != resp.User.ID {
		t.Fatalf("used_by = %v, want %v", *entry.UsedBy, resp.User.ID)
	}
}

func TestRegisterRejectsNonWhitelistedEmail(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())

	_, err := svc.Register(&dto.RegisterRequest{
		Email:    "stranger@example.com",
		Password: "Password123",
	})
	if !errors.Is(err, ErrNotWhitelisted) {
		t.Fatalf("expected ErrNotWhitelisted, got %v", err)
	}

	var count int64
	db.Model(&models.User{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected registration persisted %d users", count)
	}
}

func TestRegisterRejectsUsedAndExpiredEntries(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())

	used := whitelistEmail(t, db, "used@example.com")
	userID := uuid.New()
	now := time.Now()
	db.Model(used).Updates(map[string]interface{}{"is_used": true, "used_by": userID, "used_at": now})

	expired := whitelistEmail(t, db, "late@example.com")
	past := time.Now().Add(-time.Hour)
	db.Model(expired).Update("expires_at", past)

	for _, email := range []string{"used@example.com", "late@example.com"} {
		_, err := svc.Register(&dto.RegisterRequest{Email: email, Password: "Password123"})
		if !errors.Is(err, ErrNotWhitelisted) {
			t.Fatalf("register %s: expected ErrNotWhitelisted, got %v", email, err)
		}
	}
}

func TestRegisterAcceptsInviteCodeForAnyEmail(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())

	code := "BETA-2025"
	entry := &models.WhitelistEntry{
		ID:         uuid.New(),
		Email:      "placeholder@example.com",
		InviteCode: &code,
	}
	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("create entry: %v", err)
	}

	resp, err := svc.Register(&dto.RegisterRequest{
		Email:      "anyone@example.com",
		Password:   "Password123",
		InviteCode: code,
	})
	if err != nil {
		t.Fatalf("register with invite code: %v", err)
	}

	// The same code must not work twice.
	_, err = svc.Register(&dto.RegisterRequest{
		Email:      "second@example.com",
		Password:   "Password123",
		InviteCode: code,
	})
	if !errors.Is(err, ErrNotWhitelisted) {
		t.Fatalf("expected consumed invite code to be rejected, got %v", err)
	}

	var entryAfter models.WhitelistEntry
	db.First(&entryAfter, "id = ?", entry.ID)
	if entryAfter.UsedBy == nil || *entryAfter.UsedBy != resp.User.ID {
		t.Fatal("invite code entry not attributed to the first registrant")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())
	createTestUser(t, db, "taken@example.com", models.TierFree)
	whitelistEmail(t, db, "taken@example.com")

	_, err := svc.Register(&dto.RegisterRequest{Email: "taken@example.com", Password: "Password123"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())
	whitelistEmail(t, db, "weak@example.com")

	cases := []dto.RegisterRequest{
		{Email: "not-an-email", Password: "Password123"},
		{Email: "weak@example.com", Password: "short1"},
		{Email: "weak@example.com", Password: "lettersonly"},
		{Email: "weak@example.com", Password: "nouppercase1"},
		{Email: "weak@example.com", Password: "NOLOWERCASE1"},
		{Email: "weak@example.com", Password: "12345678"},
	}
	for _, req := range cases {
		if _, err := svc.Register(&req); err == nil {
			t.Errorf("expected validation failure for %q/%q", req.Email, req.Password)
		}
	}
}

func TestLogin(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())
	user := createTestUser(t, db, "login@example.com", models.TierPro)

	resp, err := svc.Login(&dto.LoginRequest{Email: "login@example.com", Password: "Password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.User.ID != user.ID {
		t.Fatalf("logged in as wrong user: %v", resp.User.ID)
	}
	if resp.User.LastLoginAt == nil {
		t.Fatal("expected last_login_at to be set")
	}

	if _, err := svc.Login(&dto.LoginRequest{Email: "login@example.com", Password: "wrongpass1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(&dto.LoginRequest{Email: "ghost@example.com", Password: "Password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())
	createTestUser(t, db, "rotate@example.com", models.TierFree)

	first, err := svc.Login(&dto.LoginRequest{Email: "rotate@example.com", Password: "Password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	second, err := svc.Refresh(&dto.RefreshRequest{RefreshToken: first.RefreshToken})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The presented token is single use.
	if _, err := svc.Refresh(&dto.RefreshRequest{RefreshToken: first.RefreshToken}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rotated token to be rejected, got %v", err)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())
	createTestUser(t, db, "logout@example.com", models.TierFree)

	resp, err := svc.Login(&dto.LoginRequest{Email: "logout@example.com", Password: "Password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.Logout(&dto.LogoutRequest{RefreshToken: resp.RefreshToken}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Refresh(&dto.RefreshRequest{RefreshToken: resp.RefreshToken}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())
	user := createTestUser(t, db, "rotatepw@example.com", models.TierFree)

	login, err := svc.Login(&dto.LoginRequest{Email: "rotatepw@example.com", Password: "Password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	err = svc.ChangePassword(user.ID, &dto.ChangePasswordRequest{
		CurrentPassword: "Password123",
		NewPassword:     "NewPassword9",
	})
	if err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, err := svc.Refresh(&dto.RefreshRequest{RefreshToken: login.RefreshToken}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected old session revoked, got %v", err)
	}
	if _, err := svc.Login(&dto.LoginRequest{Email: "rotatepw@example.com", Password: "NewPassword9"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := svc.Login(&dto.LoginRequest{Email: "rotatepw@example.com", Password: "Password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
}

func TestDeleteAccountRemovesOwnedRowsButKeepsLedger(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())
	user := createTestUser(t, db, "gone@example.com", models.TierPro)

	if _, err := svc.Login(&dto.LoginRequest{Email: "gone@example.com", Password: "Password123"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	db.Create(&models.Subscription{ID: uuid.New(), UserID: user.ID, Tier: models.TierPro, Status: models.SubscriptionActive})
	db.Create(&models.PredictionRequest{ID: uuid.New(), UserID: user.ID, RequestHash: "abc", Success: true})
	db.Create(&models.PaymentEvent{ID: uuid.New(), UserID: user.ID, Provider: models.ProviderStripe, ProviderEventID: "evt_1", EventType: "invoice.paid"})

	if err := svc.DeleteAccount(user.ID, "Password123"); err != nil {
		t.Fatalf("delete account: %v", err)
	}

	var users, sessions, subscriptions, requests int64
	db.Model(&models.User{}).Where("id = ?", user.ID).Count(&users)
	db.Model(&models.UserSession{}).Where("user_id = ?", user.ID).Count(&sessions)
	db.Model(&models.Subscription{}).Where("user_id = ?", user.ID).Count(&subscriptions)
	db.Model(&models.PredictionRequest{}).Where("user_id = ?", user.ID).Count(&requests)
	if users != 0 || sessions != 0 || subscriptions != 0 || requests != 0 {
		t.Errorf("owned rows survived deletion: users=%d sessions=%d subscriptions=%d requests=%d",
			users, sessions, subscriptions, requests)
	}

	// Payment events are append-only and must survive.
	var ledger int64
	db.Model(&models.PaymentEvent{}).Where("user_id = ?", user.ID).Count(&ledger)
	if ledger != 1 {
		t.Fatalf("payment ledger rows = %d, want 1", ledger)
	}
}

func TestDeleteAccountRequiresPassword(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())
	user := createTestUser(t, db, "keep@example.com", models.TierFree)

	if err := svc.DeleteAccount(user.ID, ""); err == nil {
		t.Fatal("expected error for missing password")
	}
	if err := svc.DeleteAccount(user.ID, "wrongpass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	var count int64
	db.Model(&models.User{}).Where("id = ?", user.ID).Count(&count)
	if count != 1 {
		t.Fatal("user deleted without valid password")
	}
}

func TestDemoToken(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewAuthService(db, cfg)

	resp, err := svc.DemoToken()
	if err != nil {
		t.Fatalf("demo token: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected access token")
	}
	if resp.RefreshToken != "" {
		t.Fatal("demo tokens must not be refreshable")
	}

	var sessions int64
	db.Model(&models.UserSession{}).Count(&sessions)
	if sessions != 0 {
		t.Fatalf("demo token persisted %d sessions", sessions)
	}

	cfg.DemoMode = false
	if _, err := svc.DemoToken(); !errors.Is(err, ErrDemoDisabled) {
		t.Fatalf("expected ErrDemoDisabled, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, newTestConfig())
	user := createTestUser(t, db, "profile@example.com", models.TierFree)
	createTestUser(t, db, "offlimits@example.com", models.TierFree)

	name := "Ada Lovelace"
	resp, err := svc.UpdateProfile(user.ID, &dto.UpdateProfileRequest{FullName: &name})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if resp.FullName == nil || *resp.FullName != name {
		t.Fatalf("full name not updated: %v", resp.FullName)
	}

	taken := "offlimits@example.com"
	if _, err := svc.UpdateProfile(user.ID, &dto.UpdateProfileRequest{Email: &taken}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}
