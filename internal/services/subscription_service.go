package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mirroros/public-api/internal/config"
	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/models"
)

var ErrEventSeen = errors.New("payment event already recorded")

type SubscriptionService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewSubscriptionService(db *gorm.DB, cfg *config.Config) *SubscriptionService {
	return &SubscriptionService{db: db, cfg: cfg}
}

// RecordPaymentEvent appends a ledger row for a provider event. The insert
// uses ON CONFLICT DO NOTHING on provider_event_id, so redelivered webhooks
// collapse to the single original row and get ErrEventSeen back.
func (s *SubscriptionService) RecordPaymentEvent(event *models.PaymentEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return fmt.Errorf("failed to record payment event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEventSeen
	}
	return nil
}

// MarkEventProcessed flips the processed flag exactly once. A second caller
// finds processed = true in the WHERE clause and affects zero rows.
func (s *SubscriptionService) MarkEventProcessed(providerEventID string) (bool, error) {
	now := time.Now()
	result := s.db.Model(&models.PaymentEvent{}).
		Where("provider_event_id = ? AND processed = ?", providerEventID, false).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// HandleStripeEvent projects a verified Stripe event onto the subscription
// row and the user's tier. The ledger row must already exist; callers route
// redeliveries away before projection so side effects run once.
func (s *SubscriptionService) HandleStripeEvent(event *stripe.Event, userID uuid.UUID) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(event, userID)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(event, userID)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(userID)
	case "invoice.payment_failed":
		return s.setStatus(userID, models.SubscriptionPastDue)
	case "invoice.paid":
		return s.setStatus(userID, models.SubscriptionActive)
	default:
		slog.Info("ignoring stripe event type", "type", event.Type)
		return nil
	}
}

func (s *SubscriptionService) handleCheckoutCompleted(event *stripe.Event, userID uuid.UUID) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	tier := models.TierPro
	if session.Metadata != nil {
		if priceID, ok := session.Metadata["price_id"]; ok {
			if t, ok := s.cfg.StripePriceIDs[priceID]; ok {
				tier = t
			}
		}
	}

	var stripeSubID *string
	if session.Subscription != nil {
		stripeSubID = &session.Subscription.ID
	}

	if err := s.upsert(userID, tier, models.SubscriptionActive, stripeSubID, nil, nil, nil); err != nil {
		return err
	}

	if session.Customer != nil {
		return s.db.Model(&models.Subscription{}).
			Where("user_id = ?", userID).
			Update("stripe_customer_id", session.Customer.ID).Error
	}
	return nil
}

func (s *SubscriptionService) handleSubscriptionUpdated(event *stripe.Event, userID uuid.UUID) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	tier := models.TierPro
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		if t, ok := s.cfg.StripePriceIDs[sub.Items.Data[0].Price.ID]; ok {
			tier = t
		}
	}

	status := string(sub.Status)
	var start, end *time.Time
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodStart > 0 {
			t := time.Unix(item.CurrentPeriodStart, 0)
			start = &t
		}
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0)
			end = &t
		}
	}

	return s.upsert(userID, tier, status, &sub.ID, nil, start, end)
}

func (s *SubscriptionService) handleSubscriptionDeleted(userID uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Subscription{}).
			Where("user_id = ?", userID).
			Update("status", models.SubscriptionCanceled).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("tier", models.TierFree).Error
	})
}

func (s *SubscriptionService) setStatus(userID uuid.UUID, status string) error {
	return s.db.Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Update("status", status).Error
}

// ApplyAppleReceipt projects a validated App Store receipt onto the
// subscription row. Expired receipts downgrade the user back to free.
func (s *SubscriptionService) ApplyAppleReceipt(userID uuid.UUID, receipt *AppleTransaction, rawPayload []byte) (*dto.AppleReceiptResponse, error) {
	tier := s.tierForAppleProduct(receipt.ProductID)
	status := models.SubscriptionActive
	if receipt.ExpiresAt != nil && time.Now().After(*receipt.ExpiresAt) {
		status = models.SubscriptionExpired
	}

	event := &models.PaymentEvent{
		UserID:          userID,
		Provider:        models.ProviderApple,
		ProviderEventID: "apple:" + receipt.TransactionID,
		EventType:       "receipt.validated",
		Payload:         datatypes.JSON(rawPayload),
	}
	if err := s.RecordPaymentEvent(event); err != nil && !errors.Is(err, ErrEventSeen) {
		return nil, err
	}

	appliedTier := tier
	if status != models.SubscriptionActive {
		appliedTier = models.TierFree
	}
	txID := receipt.TransactionID
	if err := s.upsert(userID, appliedTier, status, nil, &txID, receipt.PurchasedAt, receipt.ExpiresAt); err != nil {
		return nil, err
	}

	if _, err := s.MarkEventProcessed(event.ProviderEventID); err != nil {
		return nil, err
	}

	resp := &dto.AppleReceiptResponse{
		Message:       "receipt validated",
		Tier:          appliedTier,
		Status:        status,
		IsActive:      status == models.SubscriptionActive,
		ProductID:     receipt.ProductID,
		TransactionID: receipt.TransactionID,
	}
	if receipt.ExpiresAt != nil {
		formatted := receipt.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresDate = &formatted
	}
	return resp, nil
}

func (s *SubscriptionService) tierForAppleProduct(productID string) string {
	if t, ok := s.cfg.AppleProductIDs[productID]; ok {
		return t
	}
	return models.TierPro
}

// upsert writes the subscription projection and syncs the user's tier in
// one transaction: the two rows must never disagree.
func (s *SubscriptionService) upsert(userID uuid.UUID, tier, status string, stripeSubID, appleTxID *string, periodStart, periodEnd *time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		err := tx.Where("user_id = ?", userID).First(&sub).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sub = models.Subscription{
				ID:                   uuid.New(),
				UserID:               userID,
				StripeSubscriptionID: stripeSubID,
				AppleTransactionID:   appleTxID,
				Tier:                 tier,
				Status:               status,
				CurrentPeriodStart:   periodStart,
				CurrentPeriodEnd:     periodEnd,
			}
			if err := tx.Create(&sub).Error; err != nil {
				return fmt.Errorf("failed to create subscription: %w", err)
			}
		case err != nil:
			return err
		default:
			updates := map[string]interface{}{
				"tier":   tier,
				"status": status,
			}
			if stripeSubID != nil {
				updates["stripe_subscription_id"] = *stripeSubID
			}
			if appleTxID != nil {
				updates["apple_transaction_id"] = *appleTxID
			}
			if periodStart != nil {
				updates["current_period_start"] = *periodStart
			}
			if periodEnd != nil {
				updates["current_period_end"] = *periodEnd
			}
			if err := tx.Model(&sub).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update subscription: %w", err)
			}
		}

		userTier := tier
		if status != models.SubscriptionActive {
			userTier = models.TierFree
		}
		return tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("tier", userTier).Error
	})
}

// UserIDForStripeSubscription resolves the owner of a Stripe subscription,
// used to attribute webhook events that carry no metadata.
func (s *SubscriptionService) UserIDForStripeSubscription(stripeSubID string) (uuid.UUID, bool) {
	var sub models.Subscription
	if err := s.db.Where("stripe_subscription_id = ?", stripeSubID).First(&sub).Error; err != nil {
		return uuid.Nil, false
	}
	return sub.UserID, true
}

// IsEventProcessed reports whether a ledger row exists and has been
// projected. Used to decide whether a redelivered webhook needs replay.
func (s *SubscriptionService) IsEventProcessed(providerEventID string) (exists, processed bool) {
	var event models.PaymentEvent
	if err := s.db.Where("provider_event_id = ?", providerEventID).First(&event).Error; err != nil {
		return false, false
	}
	return true, event.Processed
}

// StripeCustomerID returns the stored customer for the billing portal, or
// an empty string when the user never went through checkout.
func (s *SubscriptionService) StripeCustomerID(userID uuid.UUID) (string, error) {
	var sub models.Subscription
	if err := s.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	if sub.StripeCustomerID == nil {
		return "", nil
	}
	return *sub.StripeCustomerID, nil
}

// Status reports the user's current billing state.
func (s *SubscriptionService) Status(userID uuid.UUID) (*dto.SubscriptionStatusResponse, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, ErrUserNotFound
	}

	var sub models.Subscription
	if err := s.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return &dto.SubscriptionStatusResponse{
			Tier:            user.Tier,
			Status:          "none",
			HasSubscription: false,
		}, nil
	}

	resp := &dto.SubscriptionStatusResponse{
		Tier:            sub.Tier,
		Status:          sub.Status,
		HasSubscription: true,
		IsActive:        sub.IsCurrentlyActive(),
	}
	if sub.CurrentPeriodEnd != nil {
		formatted := sub.CurrentPeriodEnd.Format(time.RFC3339)
		resp.PeriodEnd = &formatted
	}
	return resp, nil
}
