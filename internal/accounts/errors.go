package accounts

import "errors"

var (
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrDuplicateUsername     = errors.New("username already in use")
	ErrDuplicateAccount      = errors.New("email or username already exists")
	ErrInvalidCredentials    = errors.New("incorrect email or password")
	ErrEmailNotVerified      = errors.New("email not verified")
	ErrInvalidOrExpiredToken = errors.New("verification token invalid or expired")
	ErrAccountData           = errors.New("account data error")
	ErrUserNotFound          = errors.New("user not found")
)

// ValidationError is returned when registration input breaks a rule. Reason
// is safe to show to the caller.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error) error {
	return &ValidationError{Reason: err.Error(), Err: err}
}
