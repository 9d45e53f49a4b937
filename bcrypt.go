package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// RandomPassword generates an unguessable throwaway password. Accounts
// created without a password get one of these plus a reset token, so the
// account is usable only after the reset flow completes. 48 random bytes
// encode to 64 characters, under bcrypt's 72 byte input limit.
func RandomPassword() string {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return RandomPassword()
	}
	return base64.StdEncoding.EncodeToString(buf)
}
