package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyPassword = errors.New("password cannot be empty")
	// ErrPasswordTooLong is returned for passwords over bcrypt's 72-byte input limit.
	ErrPasswordTooLong = bcrypt.ErrPasswordTooLong
)

// HashPassword returns a salted bcrypt hash. Two calls with the same
// password never produce the same output.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword re-hashes password under the salt and cost stored in hash.
// bcrypt compares the digests in constant time.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
