// Package gateway talks to the private prediction service. Requests carry an
// HMAC-SHA256 signature over a canonical string so the private side can
// authenticate calls without session state.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how old a signed request may be before the
// receiving side rejects it as a replay.
const DefaultTolerance = 5 * time.Minute

type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signing secret cannot be empty")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// canonical builds the string to sign: METHOD, path, unix timestamp and the
// exact request body, newline separated.
func canonical(method, path string, body []byte, timestamp int64) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.Write(body)
	return b.String()
}

// Sign returns the hex HMAC-SHA256 signature for the request components.
func (s *Signer) Sign(method, path string, body []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonical(method, path, body, timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature in constant time and enforces the timestamp
// tolerance to reject replayed requests.
func (s *Signer) Verify(method, path string, body []byte, signature string, timestamp int64, tolerance time.Duration) bool {
	now := time.Now().Unix()
	drift := now - timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(tolerance.Seconds()) {
		return false
	}

	expected := s.Sign(method, path, body, timestamp)
	return hmac.Equal([]byte(signature), []byte(expected))
}
