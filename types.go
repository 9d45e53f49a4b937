package identity

import (
	"fmt"
	"time"
)

// Logger is the minimal logging surface this package needs. Any structured
// logger can be adapted to it.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an authenticated identity
type Identity interface {
	ID() string
	Username() string
	Email() string
	Roles() []string
}

// nonceAwareIdentity is implemented by identities that carry the account
// nonce; the session token service embeds it in issued claims so that a
// nonce rotation invalidates every outstanding token at once.
type nonceAwareIdentity interface {
	Nonce() string
}

// ClientContext carries per-request client attributes that session tokens
// are bound to.
type ClientContext struct {
	UserAgent string
}

// Config holds identity options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	// GetTokenExpiration is the access token TTL in hours.
	GetTokenExpiration() int
	// GetRefreshExpiration is the refresh token TTL in hours.
	GetRefreshExpiration() int
	// GetEmailVerificationEnabled gates the staged email change flow; when
	// false, update and patch write the email directly.
	GetEmailVerificationEnabled() bool
	// GetEmailVerifyExpiration is the verification token TTL in hours.
	GetEmailVerifyExpiration() int
	GetDefaultLocale() string
	// GetPhoneRegion is the default region for phone number normalization.
	GetPhoneRegion() string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func hoursOrDefault(hours int, def time.Duration) time.Duration {
	if hours > 0 {
		return time.Duration(hours) * time.Hour
	}
	return def
}
