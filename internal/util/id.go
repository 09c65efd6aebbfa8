package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a fresh UUIDv4 string used as a row identifier.
func NewID() string {
	return uuid.NewString()
}

// NewToken returns n random bytes hex-encoded. Share links use 16 bytes.
func NewToken(n int) string {
	if n <= 0 {
		n = 16
	}
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
