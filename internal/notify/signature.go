package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of a webhook body when the channel
// has a secret.
const SignatureHeader = "X-Signature-256"

var errBadSignature = errors.New("webhook signature verification failed")

// Sign returns the body signature in "sha256=<hex>" form.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign. Plain hex without the
// "sha256=" prefix is accepted too. Every failure returns the same error.
func VerifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errBadSignature
	}

	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return errBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), got) != 1 {
		return errBadSignature
	}
	return nil
}
