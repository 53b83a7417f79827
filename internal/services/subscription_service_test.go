package services

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"github.com/mirroros/public-api/internal/models"
)

func TestRecordPaymentEventIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(db, newTestConfig())
	user := createTestUser(t, db, "ledger@example.com", models.TierFree)

	event := &models.PaymentEvent{
		UserID:          user.ID,
		Provider:        models.ProviderStripe,
		ProviderEventID: "evt_dup",
		EventType:       "invoice.paid",
		AmountCents:     999,
		Currency:        "usd",
	}
	if err := svc.RecordPaymentEvent(event); err != nil {
		t.Fatalf("first record: %v", err)
	}

	dup := &models.PaymentEvent{
		UserID:          user.ID,
		Provider:        models.ProviderStripe,
		ProviderEventID: "evt_dup",
		EventType:       "invoice.paid",
	}
	if err := svc.RecordPaymentEvent(dup); !errors.Is(err, ErrEventSeen) {
		t.Fatalf("expected ErrEventSeen, got %v", err)
	}

	var count int64
	db.Model(&models.PaymentEvent{}).Where("provider_event_id = ?", "evt_dup").Count(&count)
	if count != 1 {
		t.Fatalf("duplicate delivery created %d rows, want 1", count)
	}
}

func TestMarkEventProcessedFlipsOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(db, newTestConfig())
	user := createTestUser(t, db, "flip@example.com", models.TierFree)

	event := &models.PaymentEvent{
		UserID:          user.ID,
		Provider:        models.ProviderStripe,
		ProviderEventID: "evt_flip",
		EventType:       "invoice.paid",
	}
	if err := svc.RecordPaymentEvent(event); err != nil {
		t.Fatalf("record: %v", err)
	}

	first, err := svc.MarkEventProcessed("evt_flip")
	if err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if !first {
		t.Fatal("first mark should win")
	}

	second, err := svc.MarkEventProcessed("evt_flip")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if second {
		t.Fatal("processed flag flipped twice")
	}

	var stored models.PaymentEvent
	db.Where("provider_event_id = ?", "evt_flip").First(&stored)
	if !stored.Processed || stored.ProcessedAt == nil {
		t.Fatal("processed marker not persisted")
	}
}

func stripeEvent(t *testing.T, eventType string, object interface{}) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleStripeCheckoutCompletedUpgradesUser(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(db, newTestConfig())
	user := createTestUser(t, db, "upgrade@example.com", models.TierFree)

	event := stripeEvent(t, "checkout.session.completed", map[string]interface{}{
		"id":       "cs_123",
		"metadata": map[string]string{"user_id": user.ID.String(), "price_id": "price_pro"},
		"customer": map[string]interface{}{"id": "cus_123"},
		"subscription": map[string]interface{}{
			"id": "sub_123",
		},
	})
	if err := svc.HandleStripeEvent(event, user.ID); err != nil {
		t.Fatalf("handle checkout: %v", err)
	}

	var stored models.User
	db.First(&stored, "id = ?", user.ID)
	if stored.Tier != models.TierPro {
		t.Fatalf("user tier = %q, want pro", stored.Tier)
	}

	var sub models.Subscription
	if err := db.Where("user_id = ?", user.ID).First(&sub).Error; err != nil {
		t.Fatalf("load subscription: %v", err)
	}
	if sub.Status != models.SubscriptionActive || sub.Tier != models.TierPro {
		t.Fatalf("subscription = %s/%s, want active/pro", sub.Status, sub.Tier)
	}
	if sub.StripeSubscriptionID == nil || *sub.StripeSubscriptionID != "sub_123" {
		t.Fatal("stripe subscription id not stored")
	}
	if sub.StripeCustomerID == nil || *sub.StripeCustomerID != "cus_123" {
		t.Fatal("stripe customer id not stored")
	}
}

func TestHandleStripeSubscriptionDeletedDowngradesUser(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(db, newTestConfig())
	user := createTestUser(t, db, "downgrade@example.com", models.TierPro)
	subID := "sub_gone"
	db.Create(&models.Subscription{
		ID:                   uuid.New(),
		UserID:               user.ID,
		StripeSubscriptionID: &subID,
		Tier:                 models.TierPro,
		Status:               models.SubscriptionActive,
	})

	event := stripeEvent(t, "customer.subscription.deleted", map[string]interface{}{"id": subID})
	if err := svc.HandleStripeEvent(event, user.ID); err != nil {
		t.Fatalf("handle deletion: %v", err)
	}

	var stored models.User
	db.First(&stored, "id = ?", user.ID)
	if stored.Tier != models.TierFree {
		t.Fatalf("user tier = %q, want free after cancellation", stored.Tier)
	}

	var sub models.Subscription
	db.Where("user_id = ?", user.ID).First(&sub)
	if sub.Status != models.SubscriptionCanceled {
		t.Fatalf("subscription status = %q, want canceled", sub.Status)
	}
}

func TestHandleStripePaymentFailedMarksPastDue(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(db, newTestConfig())
	user := createTestUser(t, db, "pastdue@example.com", models.TierPro)
	db.Create(&models.Subscription{
		ID:     uuid.New(),
		UserID: user.ID,
		Tier:   models.TierPro,
		Status: models.SubscriptionActive,
	})

	event := stripeEvent(t, "invoice.payment_failed", map[string]interface{}{"id": "in_1"})
	if err := svc.HandleStripeEvent(event, user.ID); err != nil {
		t.Fatalf("handle payment failure: %v", err)
	}

	var sub models.Subscription
	db.Where("user_id = ?", user.ID).First(&sub)
	if sub.Status != models.SubscriptionPastDue {
		t.Fatalf("subscription status = %q, want past_due", sub.Status)
	}
}

func TestHandleStripeIgnoresUnknownEventTypes(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(db, newTestConfig())
	user := createTestUser(t, db, "noop@example.com", models.TierFree)

	event := stripeEvent(t, "customer.created", map[string]interface{}{"id": "cus_x"})
	if err := svc.HandleStripeEvent(event, user.ID); err != nil {
		t.Fatalf("unknown event type should be a no-op, got %v", err)
	}
}

func TestApplyAppleReceipt(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(db, newTestConfig())
	user := createTestUser(t, db, "apple@example.com", models.TierFree)

	expires := time.Now().Add(30 * 24 * time.Hour)
	purchased := time.Now().Add(-time.Hour)
	tx := &AppleTransaction{
		TransactionID: "1000000123",
		ProductID:     "com.mirroros.pro.monthly",
		PurchasedAt:   &purchased,
		ExpiresAt:     &expires,
	}

	resp, err := svc.ApplyAppleReceipt(user.ID, tx, []byte(`{"status":0}`))
	if err != nil {
		t.Fatalf("apply receipt: %v", err)
	}
	if resp.Tier != models.TierPro || !resp.IsActive {
		t.Fatalf("response = %s/active=%v, want pro/active", resp.Tier, resp.IsActive)
	}

	var stored models.User
	db.First(&stored, "id = ?", user.ID)
	if stored.Tier != models.TierPro {
		t.Fatalf("user tier = %q, want pro", stored.Tier)
	}

	// Re-validation of the same receipt must not duplicate the ledger.
	if _, err := svc.ApplyAppleReceipt(user.ID, tx, []byte(`{"status":0}`)); err != nil {
		t.Fatalf("re-apply receipt: %v", err)
	}
	var rows int64
	db.Model(&models.PaymentEvent{}).Where("provider_event_id = ?", "apple:1000000123").Count(&rows)
	if rows != 1 {
		t.Fatalf("ledger rows = %d, want 1", rows)
	}
}

func TestApplyExpiredAppleReceiptDowngrades(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(db, newTestConfig())
	user := createTestUser(t, db, "lapsed@example.com", models.TierPro)

	expired := time.Now().Add(-24 * time.Hour)
	tx := &AppleTransaction{
		TransactionID: "1000000999",
		ProductID:     "com.mirroros.pro.monthly",
		ExpiresAt:     &expired,
	}

	resp, err := svc.ApplyAppleReceipt(user.ID, tx, []byte(`{"status":0}`))
	if err != nil {
		t.Fatalf("apply expired receipt: %v", err)
	}
	if resp.IsActive {
		t.Fatal("expired receipt reported active")
	}

	var stored models.User
	db.First(&stored, "id = ?", user.ID)
	if stored.Tier != models.TierFree {
		t.Fatalf("user tier = %q, want free after expiry", stored.Tier)
	}
}

func TestSubscriptionStatus(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(db, newTestConfig())
	user := createTestUser(t, db, "status@example.com", models.TierFree)

	resp, err := svc.Status(user.ID)
	if err != nil {
		t.Fatalf("status without subscription: %v", err)
	}
	if resp.HasSubscription {
		t.Fatal("expected no subscription")
	}

	end := time.Now().Add(7 * 24 * time.Hour)
	db.Create(&models.Subscription{
		ID:               uuid.New(),
		UserID:           user.ID,
		Tier:             models.TierPro,
		Status:           models.SubscriptionActive,
		CurrentPeriodEnd: &end,
	})

	resp, err = svc.Status(user.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !resp.HasSubscription || !resp.IsActive || resp.Tier != models.TierPro {
		t.Fatalf("unexpected status: %+v", resp)
	}
	if resp.PeriodEnd == nil {
		t.Fatal("expected period end")
	}
}
