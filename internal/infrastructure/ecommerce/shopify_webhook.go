package ecommerce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// HeaderShopifyHmac carries the base64 HMAC-SHA256 of a webhook body
const HeaderShopifyHmac = "X-Shopify-Hmac-Sha256"

// SignShopifyWebhook returns the signature Shopify sends for body
func SignShopifyWebhook(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyShopifyWebhook reports whether signature matches body under secret.
// The comparison runs in constant time.
func VerifyShopifyWebhook(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hmac.Equal(got, h.Sum(nil))
}
