package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// VerifySignature reports whether header ("sha256=<hex>") is the HMAC-SHA256
// of body under secret. It returns false on a missing or malformed header,
// an empty secret, or a mismatch.
func VerifySignature(body []byte, header, secret string) bool {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got := strings.TrimPrefix(header, signaturePrefix)
	if len(got) != hex.EncodedLen(sha256.Size) {
		return false
	}
	// The provider sends lowercase hex; comparing the encoded form keeps
	// "AB" and "ab" distinct so any change to the header is a mismatch.
	want := strings.TrimPrefix(Sign(body, secret), signaturePrefix)
	return hmac.Equal([]byte(got), []byte(want))
}

// Sign returns the header value the provider would send for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
