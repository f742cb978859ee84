package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const triggerMessage = "facetindex/index"

// TriggerToken authenticates index trigger and admin calls. The token is
// the hex HMAC-SHA256 of a fixed message under the shared secret.
type TriggerToken struct {
	token string
}

// NewTriggerToken derives the token from the shared secret.
func NewTriggerToken(secret string) *TriggerToken {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(triggerMessage))
	return &TriggerToken{token: hex.EncodeToString(mac.Sum(nil))}
}

// String returns the token.
func (t *TriggerToken) String() string {
	return t.token
}

// Verify compares candidate with the token in constant time.
func (t *TriggerToken) Verify(candidate string) bool {
	return hmac.Equal([]byte(candidate), []byte(t.token))
}
