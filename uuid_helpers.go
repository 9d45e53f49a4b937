package identity

import (
	"net/mail"

	"github.com/google/uuid"
)

// IsUUID reports whether the identifier parses as a UUID.
func IsUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}

// IsEmail reports whether the value parses as an email address.
func IsEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}
