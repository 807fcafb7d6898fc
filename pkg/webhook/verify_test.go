package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestSign(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(`{"shop_id":1}`))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if got := Sign([]byte("secret"), []byte(`{"shop_id":1}`)); got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}

func TestVerify(t *testing.T) {
	secret := []byte("hush")
	body := []byte(`{"shop_id":954889,"shop_domain":"example.myshopify.com"}`)
	valid := Sign(secret, body)

	tests := []struct {
		name      string
		secret    []byte
		body      []byte
		signature string
		want      bool
	}{
		{"valid", secret, body, valid, true},
		{"surrounding whitespace", secret, body, " " + valid + " ", true},
		{"tampered body", secret, []byte(`{"shop_id":1}`), valid, false},
		{"re-serialized body", secret, []byte(`{"shop_id": 954889, "shop_domain": "example.myshopify.com"}`), valid, false},
		{"wrong secret", []byte("other"), body, valid, false},
		{"missing signature", secret, body, "", false},
		{"not base64", secret, body, "%%%", false},
		{"truncated", secret, body, valid[:10], false},
		{"empty secret", nil, body, Sign(nil, body), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.secret, tt.body, tt.signature); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}
