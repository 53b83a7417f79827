package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/datatypes"

	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/models"
	"github.com/mirroros/public-api/internal/services"
)

type WebhookHandler struct {
	stripeClient  *services.StripeClient
	subscriptions *services.SubscriptionService
}

func NewWebhookHandler(stripeClient *services.StripeClient, subscriptions *services.SubscriptionService) *WebhookHandler {
	return &WebhookHandler{stripeClient: stripeClient, subscriptions: subscriptions}
}

// HandleStripe processes Stripe webhook deliveries. Signature verification
// runs against the raw body before anything is parsed. Deliveries are
// idempotent: the ledger row keyed by the Stripe event ID is appended once,
// and a redelivery only replays the projection when the first attempt never
// finished.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	payload := c.Body()
	sigHeader := c.Get("Stripe-Signature")
	if sigHeader == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Missing Stripe-Signature header",
		})
	}

	event, err := h.stripeClient.ConstructWebhookEvent(payload, sigHeader)
	if err != nil {
		slog.Warn("stripe webhook signature verification failed", "error", err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid signature",
		})
	}

	userID, ok := h.resolveUser(&event)
	if !ok {
		// Nothing to attribute the event to. Ack so Stripe stops
		// retrying; these are typically events for objects created
		// outside this service.
		slog.Info("stripe event has no resolvable user", "event_id", event.ID, "type", event.Type)
		return c.JSON(fiber.Map{"received": true})
	}

	amountCents, currency := paymentAmount(&event)
	ledgerRow := &models.PaymentEvent{
		UserID:          userID,
		Provider:        models.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		AmountCents:     amountCents,
		Currency:        currency,
		Payload:         datatypes.JSON(payload),
	}

	if err := h.subscriptions.RecordPaymentEvent(ledgerRow); err != nil {
		if errors.Is(err, services.ErrEventSeen) {
			if _, processed := h.subscriptions.IsEventProcessed(event.ID); processed {
				return c.JSON(fiber.Map{"received": true, "duplicate": true})
			}
			// Recorded but never projected: fall through and replay.
		} else {
			slog.Error("failed to record stripe event", "event_id", event.ID, "error", err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: true, Message: "Failed to record event",
			})
		}
	}

	if err := h.subscriptions.HandleStripeEvent(&event, userID); err != nil {
		slog.Error("failed to project stripe event", "event_id", event.ID, "type", event.Type, "error", err.Error())
		// Non-2xx makes Stripe redeliver; the unprocessed ledger row
		// lets the retry replay the projection.
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to process event",
		})
	}

	if _, err := h.subscriptions.MarkEventProcessed(event.ID); err != nil {
		slog.Error("failed to mark stripe event processed", "event_id", event.ID, "error", err.Error())
	}

	return c.JSON(fiber.Map{"received": true})
}

// resolveUser attributes an event to a user: checkout metadata first, then
// the client reference ID, then the stored subscription mapping.
func (h *WebhookHandler) resolveUser(event *stripe.Event) (uuid.UUID, bool) {
	var object struct {
		Metadata          map[string]string `json:"metadata"`
		ClientReferenceID string            `json:"client_reference_id"`
		ID                string            `json:"id"`
		Subscription      string            `json:"subscription"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return uuid.Nil, false
	}

	if raw, ok := object.Metadata["user_id"]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			return id, true
		}
	}
	if object.ClientReferenceID != "" {
		if id, err := uuid.Parse(object.ClientReferenceID); err == nil {
			return id, true
		}
	}

	// Subscription and invoice events carry the Stripe subscription ID in
	// different places depending on the object type.
	for _, subID := range []string{object.Subscription, object.ID} {
		if subID == "" {
			continue
		}
		if userID, ok := h.subscriptions.UserIDForStripeSubscription(subID); ok {
			return userID, true
		}
	}
	return uuid.Nil, false
}

// paymentAmount extracts the money fields present on checkout and invoice
// objects; zero for events that carry none.
func paymentAmount(event *stripe.Event) (int64, string) {
	var object struct {
		AmountTotal int64  `json:"amount_total"`
		AmountPaid  int64  `json:"amount_paid"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return 0, ""
	}
	if object.AmountTotal > 0 {
		return object.AmountTotal, object.Currency
	}
	return object.AmountPaid, object.Currency
}
