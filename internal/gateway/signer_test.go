package gateway

import (
	"testing"
	"time"
)

func TestSignerRoundTrip(t *testing.T) {
	signer, err := NewSigner("shared-secret")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	body := []byte(`{"goal":"ship the release"}`)
	now := time.Now().Unix()
	sig := signer.Sign("POST", "/internal/predict", body, now)

	if !signer.Verify("POST", "/internal/predict", body, sig, now, DefaultTolerance) {
		t.Fatal("valid signature rejected")
	}
	// Method casing must not matter.
	if got := signer.Sign("post", "/internal/predict", body, now); got != sig {
		t.Fatal("signature depends on method casing")
	}
}

func TestSignerRejectsTampering(t *testing.T) {
	signer, _ := NewSigner("shared-secret")
	body := []byte(`{"goal":"ship the release"}`)
	now := time.Now().Unix()
	sig := signer.Sign("POST", "/internal/predict", body, now)

	cases := []struct {
		name         string
		method, path string
		body         []byte
		sig          string
		ts           int64
	}{
		{"different body", "POST", "/internal/predict", []byte(`{"goal":"something else"}`), sig, now},
		{"different path", "POST", "/internal/other", body, sig, now},
		{"different method", "GET", "/internal/predict", body, sig, now},
		{"truncated signature", "POST", "/internal/predict", body, sig[:len(sig)-2], now},
		{"shifted timestamp", "POST", "/internal/predict", body, sig, now - 1},
	}
	for _, tc := range cases {
		if signer.Verify(tc.method, tc.path, tc.body, tc.sig, tc.ts, DefaultTolerance) {
			t.Errorf("%s: tampered request verified", tc.name)
		}
	}
}

func TestSignerRejectsStaleTimestamps(t *testing.T) {
	signer, _ := NewSigner("shared-secret")
	body := []byte(`{}`)

	stale := time.Now().Add(-10 * time.Minute).Unix()
	sig := signer.Sign("POST", "/internal/predict", body, stale)
	if signer.Verify("POST", "/internal/predict", body, sig, stale, DefaultTolerance) {
		t.Fatal("replayed request verified outside tolerance")
	}

	future := time.Now().Add(10 * time.Minute).Unix()
	sig = signer.Sign("POST", "/internal/predict", body, future)
	if signer.Verify("POST", "/internal/predict", body, sig, future, DefaultTolerance) {
		t.Fatal("future-dated request verified outside tolerance")
	}

	recent := time.Now().Add(-time.Minute).Unix()
	sig = signer.Sign("POST", "/internal/predict", body, recent)
	if !signer.Verify("POST", "/internal/predict", body, sig, recent, DefaultTolerance) {
		t.Fatal("request inside tolerance rejected")
	}
}

func TestDifferentSecretsDisagree(t *testing.T) {
	a, _ := NewSigner("secret-a")
	b, _ := NewSigner("secret-b")
	now := time.Now().Unix()
	body := []byte(`{}`)

	sig := a.Sign("POST", "/internal/predict", body, now)
	if b.Verify("POST", "/internal/predict", body, sig, now, DefaultTolerance) {
		t.Fatal("signature verified under a different secret")
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
