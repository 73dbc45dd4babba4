package auth

import (
	"strings"
	"testing"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "hunter2") {
		t.Error("expected password to match")
	}
	if CheckPassword(hash, "hunter3") {
		t.Error("expected wrong password to be rejected")
	}
}

func TestGeneratePassword(t *testing.T) {
	p1, err := GeneratePassword(16)
	if err != nil {
		t.Fatalf("GeneratePassword: %v", err)
	}
	p2, _ := GeneratePassword(16)
	if len(p1) != 16 {
		t.Errorf("expected 16 chars, got %d", len(p1))
	}
	if p1 == p2 {
		t.Error("expected different passwords")
	}
}

func TestGeneratePIN(t *testing.T) {
	for i := 0; i < 200; i++ {
		pin, err := GeneratePIN()
		if err != nil {
			t.Fatalf("GeneratePIN: %v", err)
		}
		if !ValidPINFormat(pin) {
			t.Fatalf("generated malformed pin %q", pin)
		}
	}
}

func TestValidPINFormat(t *testing.T) {
	tests := []struct {
		pin  string
		want bool
	}{
		{"000000", true},
		{"123456", true},
		{"12345", false},
		{"1234567", false},
		{"12a456", false},
		{" 23456", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidPINFormat(tt.pin); got != tt.want {
			t.Errorf("ValidPINFormat(%q) = %v, want %v", tt.pin, got, tt.want)
		}
	}
}

func TestVerifyWebhook(t *testing.T) {
	body := []byte(`{"id":1001}`)
	sig := SignWebhook("shh", body)

	if !VerifyWebhook("shh", body, sig) {
		t.Error("expected valid signature")
	}
	if VerifyWebhook("other", body, sig) {
		t.Error("expected signature under another secret to fail")
	}
	if VerifyWebhook("shh", []byte(`{"id":1002}`), sig) {
		t.Error("expected signature over another body to fail")
	}
	if VerifyWebhook("shh", body, "not base64!") {
		t.Error("expected malformed signature to fail")
	}
	if VerifyWebhook("shh", body, strings.TrimRight(sig, "=")[:10]) {
		t.Error("expected truncated signature to fail")
	}
	if VerifyWebhook("", body, SignWebhook("", body)) {
		t.Error("expected empty secret to reject everything")
	}
}

func TestSecretEqual(t *testing.T) {
	if !SecretEqual("abc", "abc") {
		t.Error("expected equal")
	}
	if SecretEqual("abc", "abd") || SecretEqual("abc", "ab") {
		t.Error("expected unequal")
	}
}
