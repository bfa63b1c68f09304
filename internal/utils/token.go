package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// VerificationTokenBytes is the entropy of an email verification token.
const VerificationTokenBytes = 32

// RandomTokenURLSafe returns nBytes of randomness encoded as unpadded base64url.
func RandomTokenURLSafe(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
