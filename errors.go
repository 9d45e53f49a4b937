package identity

import (
	"github.com/goliatone/go-errors"
)

// Text codes surfaced on rich errors so transports can map them without
// string matching.
const (
	TextCodeNotAllowed        = "NOT_ALLOWED"
	TextCodeDuplicateResource = "DUPLICATE_RESOURCE"
	TextCodeInvalidCredential = "INVALID_CREDENTIAL"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeValidation        = "VALIDATION_ERROR"
)

// ErrAccountNotFound is returned when an account identifier resolves to nothing.
var ErrAccountNotFound = errors.New("account not found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrDuplicateAccount is returned when an account with the same email already exists.
var ErrDuplicateAccount = errors.New("account with this email already exists", errors.CategoryConflict).
	WithCode(errors.CodeConflict).
	WithTextCode(TextCodeDuplicateResource)

// ErrAdminInvariant is returned for any mutation that would leave the system
// without an account holding an admin flagged role.
var ErrAdminInvariant = errors.New("operation would remove the last remaining administrator", errors.CategoryAuthz).
	WithCode(errors.CodeForbidden).
	WithTextCode(TextCodeNotAllowed)

// ErrNonLocalCredential is returned for credential operations on accounts
// authenticated through an external provider.
var ErrNonLocalCredential = errors.New("cannot manage credentials for externally authenticated accounts", errors.CategoryAuthz).
	WithCode(errors.CodeForbidden).
	WithTextCode(TextCodeNotAllowed)

// ErrMismatchedHashAndPassword is the generic bad-credential error; it is
// deliberately shared between unknown identifiers and wrong passwords.
var ErrMismatchedHashAndPassword = errors.New("invalid credentials provided", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCredential)

// ErrLoginDisabled is returned when an account has its login flag disabled.
var ErrLoginDisabled = errors.New("login is disabled for this account", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCredential)

// ErrInvalidResetToken is returned when a password reset token does not match
// any account or was already redeemed.
var ErrInvalidResetToken = errors.New("invalid or already used reset token", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCredential)

// ErrInvalidVerifyToken is returned when an email verification token does not
// match any pending change.
var ErrInvalidVerifyToken = errors.New("invalid email verification token", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCredential)

// ErrVerifyTokenExpired is returned when a pending email change outlived its
// verification window.
var ErrVerifyTokenExpired = errors.New("email verification token has expired", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

// ErrDuplicatePendingChange is reported by the tracking variant of the email
// change flow when the same address is already awaiting verification.
var ErrDuplicatePendingChange = errors.New("an email change for this address is already pending verification", errors.CategoryConflict).
	WithCode(errors.CodeConflict).
	WithTextCode(TextCodeDuplicateResource)

// ErrSessionNotFound is returned when revoking a session token that does not
// exist for the given owner.
var ErrSessionNotFound = errors.New("session token not found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrTokenExpired is returned for expired session tokens.
var ErrTokenExpired = errors.New("session token is expired", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

// ErrTokenMalformed is returned for tokens that fail signature or shape checks.
var ErrTokenMalformed = errors.New("session token is malformed", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCredential)

// ErrNoEmptyString rejects empty passwords before they reach bcrypt.
var ErrNoEmptyString = errors.New("value must not be empty", errors.CategoryValidation).
	WithTextCode(TextCodeValidation)

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool {
	return errors.IsNotFound(err)
}

// IsNotAllowed reports whether err is an authorization style rejection, the
// admin invariant and non-local credential cases included.
func IsNotAllowed(err error) bool {
	var rich *errors.Error
	if !errors.As(err, &rich) {
		return false
	}
	return rich.Category == errors.CategoryAuthz
}

// IsInvalidCredential reports whether err represents a bad password or a
// bad/expired single-use token.
func IsInvalidCredential(err error) bool {
	var rich *errors.Error
	if !errors.As(err, &rich) {
		return false
	}
	return rich.Category == errors.CategoryAuth
}

// IsDuplicate reports whether err represents a uniqueness conflict.
func IsDuplicate(err error) bool {
	var rich *errors.Error
	if !errors.As(err, &rich) {
		return false
	}
	return rich.Category == errors.CategoryConflict
}

// IsValidation reports whether err represents a malformed payload.
func IsValidation(err error) bool {
	var rich *errors.Error
	if !errors.As(err, &rich) {
		return false
	}
	return rich.Category == errors.CategoryValidation
}
