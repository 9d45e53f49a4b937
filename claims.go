package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims is the session token payload. On top of the registered claims it
// carries the account roles, the credential nonce bound to the account's
// password hash, and the token category.
type JWTClaims struct {
	jwt.RegisteredClaims
	UID             string        `json:"uid,omitempty"`
	UserRoles       []string      `json:"roles,omitempty"`
	CredentialNonce string        `json:"nonce,omitempty"`
	Category        TokenCategory `json:"category,omitempty"`
}

// UserID returns the account id, falling back to the subject claim.
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// Username returns the subject claim.
func (c *JWTClaims) Username() string {
	return c.RegisteredClaims.Subject
}

// Roles returns the role names embedded at issue time.
func (c *JWTClaims) Roles() []string {
	return c.UserRoles
}

// Expires returns the expiration time.
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time.
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// IsRefresh reports whether this is a renewal credential.
func (c *JWTClaims) IsRefresh() bool {
	return c.Category == TokenCategoryRefresh
}

// IsAccess reports whether this is a short lived bearer credential.
func (c *JWTClaims) IsAccess() bool {
	return c.Category == TokenCategoryAccess
}
