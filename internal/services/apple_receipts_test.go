package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func appleServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode verify request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
}

func TestAppleVerifyExtractsLatestTransaction(t *testing.T) {
	server := appleServer(t, func(w http.ResponseWriter, body map[string]string) {
		if body["password"] != "shared-secret" {
			t.Errorf("password = %q", body["password"])
		}
		_, _ = w.Write([]byte(`{
			"status": 0,
			"latest_receipt_info": [
				{"transaction_id": "100", "product_id": "com.mirroros.pro.monthly", "purchase_date_ms": "1700000000000", "expires_date_ms": "1700100000000"},
				{"transaction_id": "101", "product_id": "com.mirroros.pro.monthly", "purchase_date_ms": "1702000000000", "expires_date_ms": "1704700000000"}
			]
		}`))
	})
	defer server.Close()

	client := NewAppleReceiptClient("shared-secret")
	client.productionURL = server.URL
	client.sandboxURL = server.URL

	tx, raw, err := client.Verify(context.Background(), "base64-receipt")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tx.TransactionID != "101" {
		t.Fatalf("picked transaction %q, want the one with the latest expiry", tx.TransactionID)
	}
	if tx.ExpiresAt == nil || tx.PurchasedAt == nil {
		t.Fatal("timestamps not parsed")
	}
	if len(raw) == 0 {
		t.Fatal("raw payload not captured")
	}
}

func TestAppleVerifyRetriesSandbox(t *testing.T) {
	sandbox := appleServer(t, func(w http.ResponseWriter, body map[string]string) {
		_, _ = w.Write([]byte(`{
			"status": 0,
			"latest_receipt_info": [
				{"transaction_id": "200", "product_id": "com.mirroros.pro.monthly", "expires_date_ms": "1704700000000"}
			]
		}`))
	})
	defer sandbox.Close()

	production := appleServer(t, func(w http.ResponseWriter, body map[string]string) {
		_, _ = w.Write([]byte(`{"status": 21007}`))
	})
	defer production.Close()

	client := NewAppleReceiptClient("shared-secret")
	client.productionURL = production.URL
	client.sandboxURL = sandbox.URL

	tx, _, err := client.Verify(context.Background(), "sandbox-receipt")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tx.TransactionID != "200" {
		t.Fatalf("transaction = %q, want sandbox result", tx.TransactionID)
	}
}

func TestAppleVerifyRejectsBadReceipts(t *testing.T) {
	server := appleServer(t, func(w http.ResponseWriter, body map[string]string) {
		_, _ = w.Write([]byte(`{"status": 21003}`))
	})
	defer server.Close()

	client := NewAppleReceiptClient("shared-secret")
	client.productionURL = server.URL
	client.sandboxURL = server.URL

	if _, _, err := client.Verify(context.Background(), "garbage"); !errors.Is(err, ErrInvalidAppleReceipt) {
		t.Fatalf("expected ErrInvalidAppleReceipt, got %v", err)
	}
}

func TestAppleVerifyRequiresConfig(t *testing.T) {
	client := NewAppleReceiptClient("")
	if _, _, err := client.Verify(context.Background(), "anything"); !errors.Is(err, ErrAppleDisabled) {
		t.Fatalf("expected ErrAppleDisabled, got %v", err)
	}

	client = NewAppleReceiptClient("shared-secret")
	if _, _, err := client.Verify(context.Background(), ""); !errors.Is(err, ErrInvalidAppleReceipt) {
		t.Fatalf("expected ErrInvalidAppleReceipt for empty data, got %v", err)
	}
}
