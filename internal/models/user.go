package models

import "time"

// User is the persisted account record. Only the accounts flow mutates it.
type User struct {
	ID                       string     `json:"id"`
	Username                 string     `json:"username"`
	Email                    string     `json:"email"`
	HashedPassword           string     `json:"-"`
	IsEmailVerified          bool       `json:"is_email_verified"`
	VerificationToken        *string    `json:"-"`
	VerificationTokenExpires *time.Time `json:"-"`
	CreatedAt                time.Time  `json:"created_at"`
	EmailVerifiedAt          *time.Time `json:"email_verified_at"`
}

// PublicUser is the part of a user that is safe to hand to clients.
type PublicUser struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email"`
	CreatedAt       time.Time  `json:"created_at"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	IsEmailVerified bool       `json:"is_email_verified"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		CreatedAt:       u.CreatedAt,
		EmailVerifiedAt: u.EmailVerifiedAt,
		IsEmailVerified: u.IsEmailVerified,
	}
}
