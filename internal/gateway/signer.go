package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// sign computes the request signature: HMAC-SHA256 over the canonical query
// string, hex encoded. The exchange verifies it against the account secret.
func sign(secret, queryString string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}
