package models

import "time"

// OAuthCredential is a sealed document locker credential owned by a user.
// AccessToken and RefreshToken hold cryptox-sealed values, never plaintext.
type OAuthCredential struct {
	ID                string
	UserID            string
	AccessToken       string
	RefreshToken      *string
	TokenType         string
	ExpiresAt         time.Time
	NationalIDHash    *string
	ExternalAccountID *string
	Active            bool
	IssuedAt          time.Time
	LastRefreshedAt   *time.Time
	RevokedAt         *time.Time
}

// Expired reports whether the credential is past its expiry at now.
func (c *OAuthCredential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
