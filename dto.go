package identity

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// Patchable account field keys. Keys outside this vocabulary are ignored by
// the generic patch path; roles, password, and email receive special
// handling in the lifecycle service.
const (
	FieldEmail         = "email"
	FieldPassword      = "password"
	FieldRoles         = "roles"
	FieldFirstName     = "first_name"
	FieldLastName      = "last_name"
	FieldPhone         = "phone"
	FieldMobile        = "mobile"
	FieldLocale        = "locale"
	FieldLoginDisabled = "login_disabled"
)

// selfUpdateFields is the canonical allow-list for the self-service profile
// update entry point; both the DTO and the map based forms enforce it.
var selfUpdateFields = map[string]struct{}{
	FieldFirstName: {},
	FieldLastName:  {},
	FieldPhone:     {},
	FieldMobile:    {},
	FieldLocale:    {},
	FieldEmail:     {},
}

// AccountDto is the inbound account mutation payload.
type AccountDto struct {
	Email     string     `json:"email"`
	Password  string     `json:"password,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Mobile    string     `json:"mobile,omitempty"`
	Locale    string     `json:"locale,omitempty"`
	Source    AuthSource `json:"source,omitempty"`
	Roles     []string   `json:"roles,omitempty"`
}

// Validate checks the payload shape before any lifecycle processing.
func (d AccountDto) Validate() error {
	err := validation.ValidateStruct(&d,
		validation.Field(&d.Email, validation.Required, is.Email),
		// bcrypt rejects inputs over 72 bytes, so the cap is a hasher limit
		validation.Field(&d.Password, validation.Length(8, 72)),
		validation.Field(&d.Locale, validation.Length(0, 16)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid account payload").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

// ToAccount converts the payload into an account record with normalized
// email and phone fields. Credentials and roles are not populated here, they
// go through the sanitizer and the resolver.
func (d AccountDto) ToAccount(phoneRegion string) *Account {
	return &Account{
		Email:     NormalizeEmail(d.Email),
		FirstName: strings.TrimSpace(d.FirstName),
		LastName:  strings.TrimSpace(d.LastName),
		Phone:     NormalizePhone(d.Phone, phoneRegion),
		Mobile:    NormalizePhone(d.Mobile, phoneRegion),
		Locale:    strings.TrimSpace(d.Locale),
		Source:    d.Source,
	}
}

// PasswordUpdateRequest carries a self-service password change: the current
// password for verification plus the replacement.
type PasswordUpdateRequest struct {
	Verification string `json:"verification"`
	Password     string `json:"password"`
}

// Validate checks the request shape.
func (r PasswordUpdateRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Verification, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid password update payload").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

// LoginRequest is the authentication payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks the request shape.
func (r LoginRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid login payload").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

// TokenResponse wraps an issued bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// NormalizePhone formats a phone number as E.164 for the given default
// region. Values that do not parse are stored as supplied, trimmed; phone
// validity is not a write barrier.
func NormalizePhone(raw, region string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	if region == "" {
		region = "US"
	}

	num, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return trimmed
	}

	return phonenumbers.Format(num, phonenumbers.E164)
}
