package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)
	secret := "whsec_test"
	valid := signPayload(payload, secret)

	if !VerifyWebhookSignature(payload, valid, secret) {
		t.Fatalf("expected valid signature to verify")
	}
	if !VerifyWebhookSignature(payload, "sha256="+valid, secret) {
		t.Fatalf("expected scheme-prefixed signature to verify")
	}
	if !VerifyWebhookSignature(payload, strings.ToUpper(valid), secret) {
		t.Fatalf("expected uppercase hex signature to verify")
	}
	if !VerifyWebhookSignature(payload, "  "+valid+"  ", secret) {
		t.Fatalf("expected whitespace-padded signature to verify")
	}
}

func TestVerifyWebhookSignature_Rejects(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	valid := signPayload(payload, secret)

	if VerifyWebhookSignature(payload, valid, "other-secret") {
		t.Fatalf("wrong secret must not verify")
	}
	if VerifyWebhookSignature([]byte(`{"id":"evt_2"}`), valid, secret) {
		t.Fatalf("tampered payload must not verify")
	}
	if VerifyWebhookSignature(payload, "", secret) {
		t.Fatalf("empty signature must not verify")
	}
	if VerifyWebhookSignature(payload, valid, "") {
		t.Fatalf("empty secret must not verify")
	}
	if VerifyWebhookSignature(payload, "not-hex!", secret) {
		t.Fatalf("non-hex signature must not verify")
	}
	if VerifyWebhookSignature(payload, valid[:10], secret) {
		t.Fatalf("truncated signature must not verify")
	}
}
