package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 Square computes over the
// notification URL followed by the raw body.
const SignatureHeader = "X-Square-Hmacsha256-Signature"

// VerifyWebhookSignature reports whether header matches the payload signed with key.
func VerifyWebhookSignature(key, notificationURL string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if key == "" || header == "" {
		return false
	}
	expected := SignWebhook(key, notificationURL, body)
	return hmac.Equal([]byte(expected), []byte(header))
}

// SignWebhook computes the base64 signature for the notification URL and body.
func SignWebhook(key, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
