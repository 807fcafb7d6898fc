package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Request headers set by the platform on every delivery.
const (
	HeaderHMAC       = "X-Shopify-Hmac-Sha256"
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderTopic      = "X-Shopify-Topic"
	HeaderWebhookID  = "X-Shopify-Webhook-Id"
)

// Sign returns the base64 HMAC-SHA256 of body under secret, in the form
// carried by HeaderHMAC.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC of the raw body under secret.
// The comparison runs in constant time. An empty secret or signature never
// verifies.
func Verify(secret, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if len(secret) == 0 || signature == "" {
		return false
	}

	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
