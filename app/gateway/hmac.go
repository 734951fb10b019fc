package gateway

import (
	"crypto/hmac"
	"encoding/hex"
	"hash"
	"strings"
)

// verifyHexHMAC recomputes the keyed digest over the raw, unparsed
// body and compares it to the hex-encoded header signature in constant
// time. A missing secret, an empty signature, or an undecodable
// signature all count as a plain mismatch, never a distinct error.
func verifyHexHMAC(newHash func() hash.Hash, secret string, rawBody []byte, signature string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}

	candidate, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(newHash, []byte(secret))
	_, _ = mac.Write(rawBody)
	expected := mac.Sum(nil)

	return hmac.Equal(candidate, expected)
}
