package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/services"
)

type BillingHandler struct {
	stripeClient  *services.StripeClient
	appleClient   *services.AppleReceiptClient
	subscriptions *services.SubscriptionService
}

func NewBillingHandler(stripeClient *services.StripeClient, appleClient *services.AppleReceiptClient, subscriptions *services.SubscriptionService) *BillingHandler {
	return &BillingHandler{
		stripeClient:  stripeClient,
		appleClient:   appleClient,
		subscriptions: subscriptions,
	}
}

// CreateCheckoutSession starts a Stripe subscription checkout for one of
// the configured prices.
func (h *BillingHandler) CreateCheckoutSession(c *fiber.Ctx) error {
	p, ok := registeredPrincipal(c)
	if !ok {
		return nil
	}

	var req dto.CheckoutSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	if req.PriceID == "" || req.SuccessURL == "" || req.CancelURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "price_id, success_url and cancel_url are required",
		})
	}

	sessionID, url, err := h.stripeClient.CreateCheckoutSession(p.ID, p.Email, req.PriceID, req.SuccessURL, req.CancelURL)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownPriceID):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Unknown price id",
			})
		case errors.Is(err, services.ErrStripeDisabled):
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
				Error: true, Message: "Payments are not configured",
			})
		default:
			return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
				Error: true, Message: "Failed to create checkout session",
			})
		}
	}

	return c.JSON(dto.CheckoutSessionResponse{SessionID: sessionID, URL: url})
}

// CreatePortalSession opens the Stripe self-serve billing portal for users
// who previously checked out.
func (h *BillingHandler) CreatePortalSession(c *fiber.Ctx) error {
	p, ok := registeredPrincipal(c)
	if !ok {
		return nil
	}

	var req dto.PortalSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	if req.ReturnURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "return_url is required",
		})
	}

	customerID, err := h.subscriptions.StripeCustomerID(p.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Internal server error",
		})
	}
	if customerID == "" {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "No billing account found",
		})
	}

	url, err := h.stripeClient.CreateBillingPortalSession(customerID, req.ReturnURL)
	if err != nil {
		if errors.Is(err, services.ErrStripeDisabled) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
				Error: true, Message: "Payments are not configured",
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to create portal session",
		})
	}

	return c.JSON(dto.PortalSessionResponse{URL: url})
}

// SubscriptionStatus reports the caller's current tier and billing state.
func (h *BillingHandler) SubscriptionStatus(c *fiber.Ctx) error {
	p, ok := registeredPrincipal(c)
	if !ok {
		return nil
	}

	resp, err := h.subscriptions.Status(p.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to load subscription status",
		})
	}
	return c.JSON(resp)
}

// ValidateAppleReceipt verifies an App Store receipt and projects it onto
// the caller's subscription. Safe to call repeatedly: the transaction ID
// keys the ledger, so re-submissions do not double-apply.
func (h *BillingHandler) ValidateAppleReceipt(c *fiber.Ctx) error {
	p, ok := registeredPrincipal(c)
	if !ok {
		return nil
	}

	var req dto.AppleReceiptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	tx, raw, err := h.appleClient.Verify(c.UserContext(), req.ReceiptData)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAppleDisabled):
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
				Error: true, Message: "Apple payments are not configured",
			})
		case errors.Is(err, services.ErrInvalidAppleReceipt):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid receipt",
			})
		default:
			return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
				Error: true, Message: "Receipt validation failed",
			})
		}
	}

	resp, err := h.subscriptions.ApplyAppleReceipt(p.ID, tx, raw)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to apply receipt",
		})
	}
	return c.JSON(resp)
}
