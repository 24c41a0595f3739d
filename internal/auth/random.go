package auth

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateOpaqueToken returns n random bytes encoded as unpadded base64url.
func GenerateOpaqueToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
