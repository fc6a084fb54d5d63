package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateRandomString generates random bytes of the given length,
// encoded to base64.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Errorf("failed to generate random string: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// GenerateState returns an opaque state token suitable for keying an
// authorization session (24 random bytes, well above the 16-byte floor).
func GenerateState() string {
	return GenerateRandomString(24)
}
