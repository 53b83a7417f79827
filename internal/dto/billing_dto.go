package dto

type CheckoutSessionRequest struct {
	PriceID    string `json:"price_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type CheckoutSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type PortalSessionRequest struct {
	ReturnURL string `json:"return_url"`
}

type PortalSessionResponse struct {
	URL string `json:"url"`
}

type SubscriptionStatusResponse struct {
	Tier            string  `json:"tier"`
	Status          string  `json:"status"`
	HasSubscription bool    `json:"has_subscription"`
	IsActive        bool    `json:"is_active"`
	PeriodEnd       *string `json:"current_period_end,omitempty"`
}

type AppleReceiptRequest struct {
	ReceiptData   string `json:"receipt_data"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type AppleReceiptResponse struct {
	Message       string  `json:"message"`
	Tier          string  `json:"tier"`
	Status        string  `json:"status"`
	IsActive      bool    `json:"is_active"`
	ProductID     string  `json:"product_id"`
	TransactionID string  `json:"transaction_id"`
	ExpiresDate   *string `json:"expires_date,omitempty"`
}

type WhitelistCreateRequest struct {
	Email      string  `json:"email"`
	InviteCode *string `json:"invite_code,omitempty"`
	Notes      *string `json:"notes,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"` // RFC 3339
}
