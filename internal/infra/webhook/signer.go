package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Header names set on every delivery.
const (
	HeaderKey       = "X-NFTMARKET-KEY"
	HeaderSign      = "X-NFTMARKET-SIGN"
	HeaderTimestamp = "X-NFTMARKET-TIMESTAMP"
)

// Signer authenticates webhook deliveries with HMAC-SHA256.
type Signer struct {
	keyID  string
	secret string
	now    func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(keyID, secret string) *Signer {
	return &Signer{keyID: keyID, secret: secret, now: time.Now}
}

// GenerateHeaders creates the headers for one delivery.
// Payload signed: timestamp + method + path + body, timestamp in Unix milliseconds.
func (s *Signer) GenerateHeaders(method, path, body string) map[string]string {
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)

	return map[string]string{
		HeaderKey:       s.keyID,
		HeaderSign:      computeHmacSha256(timestamp+method+path+body, s.secret),
		HeaderTimestamp: timestamp,
		"Content-Type":  "application/json",
	}
}

// Verify checks a received signature. Receivers use it with the same secret.
func Verify(secret, timestamp, method, path, body, sign string) bool {
	expected := computeHmacSha256(timestamp+method+path+body, secret)
	return hmac.Equal([]byte(expected), []byte(sign))
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
