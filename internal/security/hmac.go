// ABOUTME: HMAC-SHA256 signature validation for inbound webhook payloads
// ABOUTME: Constant-time comparison against a sha256=<hex> formatted signature

package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// Validate reports whether signature is a well-formed "sha256=<hex>"
// string whose hex payload is a constant-time byte-equal match to
// HMAC-SHA256(secret, payload) rendered as lowercase hex. Nil or empty
// payload, signature, or secret return false, as does a malformed
// prefix or non-hex remainder.
func Validate(payload []byte, signature string, secret []byte) bool {
	if len(payload) == 0 || len(secret) == 0 {
		return false
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(signature[len(signaturePrefix):]), []byte(want)) == 1
}

// Sign returns the "sha256=<hex>" signature for payload under secret,
// the inverse of Validate; used by tests and by callers that need to
// produce a signature rather than check one.
func Sign(payload []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
