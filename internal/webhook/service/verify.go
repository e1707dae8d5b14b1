package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/invoza/invoza/internal/webhook/domain"
)

// VerifySignature checks the hex HMAC-SHA256 of the raw body against the
// shared webhook secret. Runs before any parsing.
func VerifySignature(body []byte, signature, secret string) error {
	if secret == "" {
		return domain.ErrMissingSecret
	}
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign computes the signature a gateway would attach. Exported for tests and
// local tooling that replays events.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
