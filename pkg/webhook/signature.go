package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature validates the GitHub webhook signature.
func VerifySignature(payload []byte, signature, secret string) bool {
	// An empty secret never verifies; unsigned mode is opted into via Verifier.
	if secret == "" || signature == "" {
		return false
	}

	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}

	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}

// Sign returns the X-Hub-Signature-256 value GitHub would send for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verifier decides whether a delivery is authentic.
type Verifier struct {
	Secret string
	// SkipVerification accepts every delivery. It is only set by the
	// explicit allow-unsigned-webhooks opt-in.
	SkipVerification bool
}

// Verify reports whether signature matches payload, or true when
// verification is switched off.
func (v Verifier) Verify(payload []byte, signature string) bool {
	if v.SkipVerification {
		return true
	}
	return VerifySignature(payload, signature, v.Secret)
}
