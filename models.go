package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthSource tags where an account's credential lives
type AuthSource = string

const (
	// SourceLocal marks accounts whose password hash is managed here
	SourceLocal AuthSource = "local"
	// SourceLDAP marks accounts authenticated against a directory
	SourceLDAP AuthSource = "ldap"
	// SourceOAuth marks accounts authenticated by an external OAuth provider
	SourceOAuth AuthSource = "oauth"
)

// DefaultLocale is used when an account carries no locale of its own.
const DefaultLocale = "en"

// Account is the identity record
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID           uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email        string    `bun:"email,notnull,unique" json:"email,omitempty"`
	FirstName    string    `bun:"first_name" json:"first_name,omitempty"`
	LastName     string    `bun:"last_name" json:"last_name,omitempty"`
	Phone        string    `bun:"phone" json:"phone,omitempty"`
	Mobile       string    `bun:"mobile" json:"mobile,omitempty"`
	Locale       string    `bun:"locale" json:"locale,omitempty"`
	PasswordHash string    `bun:"password_hash" json:"-"`
	// Nonce rotates with every password hash change; session tokens embed it
	// so a rotation invalidates all previously issued tokens at once.
	Nonce  string     `bun:"nonce" json:"-"`
	Source AuthSource `bun:"source,notnull" json:"source,omitempty"`

	PasswordResetToken string `bun:"password_reset_token,nullzero" json:"-"`

	// Pending email change block; exists only between a change request and
	// its verification or expiry.
	EmailToVerify          string     `bun:"email_to_verify,nullzero" json:"email_to_verify,omitempty"`
	EmailVerifyToken       string     `bun:"email_verify_token,nullzero" json:"-"`
	EmailVerifyExpiresAt   *time.Time `bun:"email_verify_expires_at,nullzero" json:"email_verify_expires_at,omitempty"`
	EmailChangeRequestedAt *time.Time `bun:"email_change_requested_at,nullzero" json:"email_change_requested_at,omitempty"`

	LoginDisabled bool `bun:"login_disabled" json:"login_disabled,omitempty"`

	Roles []*Role `bun:"m2m:accounts_roles,join:Account=Role" json:"roles,omitempty"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// HasLocalAuthentication reports whether the credential is managed by this
// system. Accounts without a source tag are treated as local.
func (a *Account) HasLocalAuthentication() bool {
	return a.Source == "" || a.Source == SourceLocal
}

// HasRole checks the loaded role set by name
func (a *Account) HasRole(name string) bool {
	for _, role := range a.Roles {
		if role != nil && role.Name == name {
			return true
		}
	}
	return false
}

// RoleNames returns the names of the loaded role set
func (a *Account) RoleNames() []string {
	names := make([]string, 0, len(a.Roles))
	for _, role := range a.Roles {
		if role != nil {
			names = append(names, role.Name)
		}
	}
	return names
}

// GetLocale returns the account locale, falling back to DefaultLocale
func (a *Account) GetLocale() string {
	if a.Locale == "" {
		return DefaultLocale
	}
	return a.Locale
}

// EmailEquals compares against the stored email case insensitively
func (a *Account) EmailEquals(email string) bool {
	return strings.EqualFold(a.Email, email)
}

// HasPendingEmailChange reports whether a change request is staged
func (a *Account) HasPendingEmailChange() bool {
	return a.EmailToVerify != "" && a.EmailVerifyToken != ""
}

// Role is a named permission grouping owned by the role catalog and
// referenced, never owned, by accounts.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`

	ID          uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name        string    `bun:"name,notnull,unique" json:"name,omitempty"`
	Description string    `bun:"description" json:"description,omitempty"`
	// IsAdmin marks the role as administrator flagged; the admin invariant
	// guard protects the last account holding any such role.
	IsAdmin bool `bun:"is_admin" json:"is_admin,omitempty"`
	// IsDefaultRole marks the catalog fallback assigned when a create or
	// update resolves to an empty role set.
	IsDefaultRole bool `bun:"is_default_role" json:"is_default_role,omitempty"`
	// IsProtected roles cannot be removed from the catalog.
	IsProtected bool `bun:"is_protected" json:"is_protected,omitempty"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// AccountRole is the join table backing the account role association
type AccountRole struct {
	bun.BaseModel `bun:"table:accounts_roles,alias:acr"`

	AccountID uuid.UUID `bun:"account_id,pk,type:uuid"`
	Account   *Account  `bun:"rel:belongs-to,join:account_id=id"`
	RoleID    uuid.UUID `bun:"role_id,pk,type:uuid"`
	Role      *Role     `bun:"rel:belongs-to,join:role_id=id"`
}

// TokenCategory distinguishes refresh from access session tokens
type TokenCategory = string

const (
	// TokenCategoryRefresh is the long lived renewal credential
	TokenCategoryRefresh TokenCategory = "refresh"
	// TokenCategoryAccess is the short lived bearer credential
	TokenCategoryAccess TokenCategory = "access"
)

// SessionToken records an issued refresh token per owner and client
type SessionToken struct {
	bun.BaseModel `bun:"table:session_tokens,alias:st"`

	ID        uuid.UUID     `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Username  string        `bun:"username,notnull" json:"username,omitempty"`
	UserAgent string        `bun:"user_agent" json:"user_agent,omitempty"`
	Category  TokenCategory `bun:"category,notnull" json:"category,omitempty"`
	IssuedAt  time.Time     `bun:"issued_at,notnull" json:"issued_at,omitempty"`
	ExpiresAt time.Time     `bun:"expires_at,notnull" json:"expires_at,omitempty"`
}

// Expired reports whether the token outlived its expiry at the given time
func (t *SessionToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// NormalizeEmail lower cases and trims an email for storage and comparison
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
