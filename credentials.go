package identity

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// CredentialStore is the read surface the sanitizer needs to resolve the
// persisted counterpart of the account being prepared.
type CredentialStore interface {
	GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*Account, error)
}

// CredentialSanitizer prepares an account's committed password hash and
// nonce. It never persists anything itself: it only sets in-memory fields on
// the account being prepared, persistence is the caller's responsibility.
type CredentialSanitizer struct {
	store  CredentialStore
	logger Logger
}

// NewCredentialSanitizer creates a sanitizer backed by the given store.
func NewCredentialSanitizer(store CredentialStore) *CredentialSanitizer {
	return &CredentialSanitizer{
		store:  store,
		logger: defLogger{},
	}
}

func (s *CredentialSanitizer) WithLogger(l Logger) *CredentialSanitizer {
	if l != nil {
		s.logger = l
	}
	return s
}

// Sanitize resolves the persisted counterpart of account (if any) and applies
// the credential rules against it.
func (s *CredentialSanitizer) Sanitize(ctx context.Context, account *Account, newPassword string) error {
	existing, err := s.lookupExisting(ctx, account)
	if err != nil {
		return err
	}
	return s.SanitizeAgainst(account, existing, newPassword)
}

// SanitizeAgainst applies the credential rules with an already loaded
// persisted record; callers running inside a transaction use this form so the
// decision reads the same snapshot as the write it prepares.
//
// Rules: a non-empty new password on a locally authenticated account is
// hashed and rotates the nonce. Otherwise hash and nonce are carried over
// from the persisted record unchanged. A nonce that was never assigned stays
// absent until the first local credential write.
func (s *CredentialSanitizer) SanitizeAgainst(account, existing *Account, newPassword string) error {
	local := account.HasLocalAuthentication()
	if existing != nil {
		local = existing.HasLocalAuthentication()
	}

	if strings.TrimSpace(newPassword) != "" && local {
		hash, err := HashPassword(newPassword)
		if err != nil {
			return errors.Wrap(err, errors.CategoryValidation, "invalid password provided").
				WithTextCode(TextCodeValidation)
		}
		account.PasswordHash = hash
		account.Nonce = GenerateNonce()
	} else {
		account.PasswordHash = ""
		if existing != nil {
			account.PasswordHash = existing.PasswordHash
		}
	}

	if account.Nonce == "" && existing != nil {
		account.Nonce = existing.Nonce
	}

	return nil
}

func (s *CredentialSanitizer) lookupExisting(ctx context.Context, account *Account) (*Account, error) {
	if account.ID == uuid.Nil {
		return nil, nil
	}

	existing, err := s.store.GetByID(ctx, account.ID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve persisted account")
	}

	return existing, nil
}

// GenerateNonce returns a fresh short opaque credential nonce.
func GenerateNonce() string {
	return uuid.NewString()[:8]
}
