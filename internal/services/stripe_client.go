package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/mirroros/public-api/internal/config"
)

var (
	ErrStripeDisabled  = errors.New("stripe is not configured")
	ErrUnknownPriceID  = errors.New("unknown price id")
	ErrBadWebhookEvent = errors.New("invalid webhook signature")
)

// StripeClient wraps the Stripe SDK calls the billing handlers need.
type StripeClient struct {
	cfg *config.Config
}

func NewStripeClient(cfg *config.Config) *StripeClient {
	if cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &StripeClient{cfg: cfg}
}

func (c *StripeClient) Enabled() bool {
	return c.cfg.StripeSecretKey != ""
}

// CreateCheckoutSession opens a subscription checkout for a configured price.
// The user ID rides in the session metadata so the webhook can attribute the
// resulting events without a customer lookup.
func (c *StripeClient) CreateCheckoutSession(userID uuid.UUID, email, priceID, successURL, cancelURL string) (sessionID, url string, err error) {
	if !c.Enabled() {
		return "", "", ErrStripeDisabled
	}
	if _, ok := c.cfg.StripePriceIDs[priceID]; !ok {
		return "", "", ErrUnknownPriceID
	}

	params := &stripe.CheckoutSessionParams{
		CustomerEmail: stripe.String(email),
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(successURL),
		CancelURL:           stripe.String(cancelURL),
		ClientReferenceID:   stripe.String(userID.String()),
		Metadata: map[string]string{
			"user_id":  userID.String(),
			"price_id": priceID,
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"user_id": userID.String(),
			},
		},
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

// CreateBillingPortalSession opens the Stripe self-serve portal.
func (c *StripeClient) CreateBillingPortalSession(customerID, returnURL string) (string, error) {
	if !c.Enabled() {
		return "", ErrStripeDisabled
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *StripeClient) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, c.cfg.StripeWebhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrBadWebhookEvent, err)
	}
	return event, nil
}
