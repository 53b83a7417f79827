package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	appleProductionURL = "https://buy.itunes.apple.com/verifyReceipt"
	appleSandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"

	// Status codes that mean "right receipt, wrong environment".
	appleStatusSandboxReceipt    = 21007
	appleStatusProductionReceipt = 21008
)

var (
	ErrAppleDisabled       = errors.New("apple receipt validation is not configured")
	ErrInvalidAppleReceipt = errors.New("apple receipt is invalid")
)

// AppleTransaction is the latest transaction extracted from a verified
// receipt.
type AppleTransaction struct {
	TransactionID string
	ProductID     string
	PurchasedAt   *time.Time
	ExpiresAt     *time.Time
}

// AppleReceiptClient talks to Apple's verifyReceipt endpoint. A receipt that
// comes back as "wrong environment" is retried once against the other
// endpoint, which is how sandbox builds keep working against production
// config and vice versa.
type AppleReceiptClient struct {
	sharedSecret string
	http         *http.Client

	// overridable in tests
	productionURL string
	sandboxURL    string
}

func NewAppleReceiptClient(sharedSecret string) *AppleReceiptClient {
	return &AppleReceiptClient{
		sharedSecret:  sharedSecret,
		http:          &http.Client{Timeout: 15 * time.Second},
		productionURL: appleProductionURL,
		sandboxURL:    appleSandboxURL,
	}
}

type appleVerifyResponse struct {
	Status            int                      `json:"status"`
	LatestReceiptInfo []map[string]interface{} `json:"latest_receipt_info"`
	Receipt           struct {
		InApp []map[string]interface{} `json:"in_app"`
	} `json:"receipt"`
}

// Verify validates receipt data and returns the latest transaction.
func (c *AppleReceiptClient) Verify(ctx context.Context, receiptData string) (*AppleTransaction, []byte, error) {
	if c.sharedSecret == "" {
		return nil, nil, ErrAppleDisabled
	}
	if receiptData == "" {
		return nil, nil, ErrInvalidAppleReceipt
	}

	raw, parsed, err := c.verifyAgainst(ctx, c.productionURL, receiptData)
	if err != nil {
		return nil, nil, err
	}

	switch parsed.Status {
	case appleStatusSandboxReceipt:
		raw, parsed, err = c.verifyAgainst(ctx, c.sandboxURL, receiptData)
	case appleStatusProductionReceipt:
		raw, parsed, err = c.verifyAgainst(ctx, c.productionURL, receiptData)
	}
	if err != nil {
		return nil, nil, err
	}

	if parsed.Status != 0 {
		return nil, nil, fmt.Errorf("%w: status %d", ErrInvalidAppleReceipt, parsed.Status)
	}

	tx := latestTransaction(parsed)
	if tx == nil {
		return nil, nil, fmt.Errorf("%w: no transactions in receipt", ErrInvalidAppleReceipt)
	}
	return tx, raw, nil
}

func (c *AppleReceiptClient) verifyAgainst(ctx context.Context, url, receiptData string) ([]byte, *appleVerifyResponse, error) {
	body, err := json.Marshal(map[string]string{
		"receipt-data": receiptData,
		"password":     c.sharedSecret,
	})
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("apple verification request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed appleVerifyResponse
	var buf bytes.Buffer
	if err := json.NewDecoder(io.TeeReader(resp.Body, &buf)).Decode(&parsed); err != nil {
		return nil, nil, fmt.Errorf("failed to decode apple response: %w", err)
	}
	return buf.Bytes(), &parsed, nil
}

// latestTransaction picks the transaction with the newest expiry. Apple does
// not guarantee ordering inside latest_receipt_info.
func latestTransaction(resp *appleVerifyResponse) *AppleTransaction {
	entries := resp.LatestReceiptInfo
	if len(entries) == 0 {
		entries = resp.Receipt.InApp
	}

	var best *AppleTransaction
	var bestExpiry int64 = -1
	for _, entry := range entries {
		tx := &AppleTransaction{
			TransactionID: stringField(entry, "transaction_id"),
			ProductID:     stringField(entry, "product_id"),
		}
		if tx.TransactionID == "" {
			continue
		}
		if ms, ok := msField(entry, "purchase_date_ms"); ok {
			t := time.UnixMilli(ms)
			tx.PurchasedAt = &t
		}
		expiry := int64(0)
		if ms, ok := msField(entry, "expires_date_ms"); ok {
			t := time.UnixMilli(ms)
			tx.ExpiresAt = &t
			expiry = ms
		}
		if expiry > bestExpiry {
			best = tx
			bestExpiry = expiry
		}
	}
	return best
}

func stringField(entry map[string]interface{}, key string) string {
	if v, ok := entry[key].(string); ok {
		return v
	}
	return ""
}

// msField parses Apple's millisecond timestamps, which arrive as strings.
func msField(entry map[string]interface{}, key string) (int64, bool) {
	s, ok := entry[key].(string)
	if !ok {
		return 0, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
