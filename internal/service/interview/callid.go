package interview

import (
	"crypto/rand"
	"fmt"
	"time"
)

const callTokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newCallID returns "session_<unix ms>_<token>".
func newCallID(now time.Time) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("call id token: %w", err)
	}
	for i, b := range buf {
		buf[i] = callTokenAlphabet[int(b)%len(callTokenAlphabet)]
	}
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), buf), nil
}
