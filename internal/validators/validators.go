// Package validators holds the input rules applied before an account is
// created. Each check returns an error wrapping one of the sentinel errors
// below, with a human-readable reason as its message.
package validators

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrWeakPassword    = errors.New("weak password")
	ErrInvalidEmail    = errors.New("invalid email")
)

// SpecialCharacters is the set a password must draw at least one character from.
const SpecialCharacters = `!@#$%^&*(),.?":{}|<>`

const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
	MinPasswordLength = 8
	// MaxPasswordBytes is bcrypt's input limit.
	MaxPasswordBytes = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Error carries the reason a value was rejected and the rule it broke.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func (e *Error) Unwrap() error { return e.Kind }

func fail(kind error, reason string) error {
	return &Error{Kind: kind, Reason: reason}
}

func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return fail(ErrInvalidUsername, fmt.Sprintf("username must be %d-%d characters long", MinUsernameLength, MaxUsernameLength))
	}
	if !usernamePattern.MatchString(username) {
		return fail(ErrInvalidUsername, "username may only contain letters, digits and underscores, and must start with a letter")
	}
	return nil
}

// ValidatePassword reports the first rule the password breaks, checked in
// the order: length, uppercase, lowercase, digit, special character.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fail(ErrWeakPassword, fmt.Sprintf("password must be at least %d characters long", MinPasswordLength))
	}
	if len(password) > MaxPasswordBytes {
		return fail(ErrWeakPassword, fmt.Sprintf("password must be at most %d bytes long", MaxPasswordBytes))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(SpecialCharacters, r):
			special = true
		}
	}

	switch {
	case !upper:
		return fail(ErrWeakPassword, "password must contain at least one uppercase letter")
	case !lower:
		return fail(ErrWeakPassword, "password must contain at least one lowercase letter")
	case !digit:
		return fail(ErrWeakPassword, "password must contain at least one digit")
	case !special:
		return fail(ErrWeakPassword, "password must contain at least one special character ("+SpecialCharacters+")")
	}
	return nil
}

// ValidateEmail accepts bare addresses only ("local@domain"), no display names.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fail(ErrInvalidEmail, "email address is not valid")
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return fail(ErrInvalidEmail, "email address is not valid")
	}
	return nil
}
