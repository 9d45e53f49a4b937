package identity

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LifecycleDeps carries the collaborators of the account lifecycle service.
// Repo, Config, Sanitizer, Resolver and Guard are required; the rest default
// to no-op implementations.
type LifecycleDeps struct {
	Repo      RepositoryManager
	Config    Config
	Sanitizer *CredentialSanitizer
	Resolver  *RoleResolver
	Guard     *AdminInvariantGuard
	EmailFlow *EmailChangeFlow
	Mailer    Mailer
	Activity  ActivitySink
	Logger    Logger
}

// AccountLifecycleService owns account creation, mutation and deletion. All
// writes go through a transaction so that role association changes, the admin
// invariant check and the account row land or fail together.
type AccountLifecycleService struct {
	repo      RepositoryManager
	cfg       Config
	sanitizer *CredentialSanitizer
	resolver  *RoleResolver
	guard     *AdminInvariantGuard
	emailFlow *EmailChangeFlow
	mailer    Mailer
	activity  ActivitySink
	logger    Logger
}

// NewAccountLifecycleService wires the lifecycle service from its deps.
func NewAccountLifecycleService(deps LifecycleDeps) (*AccountLifecycleService, error) {
	if deps.Repo == nil {
		return nil, errors.New("lifecycle service requires a repository manager", errors.CategoryBadInput)
	}
	if deps.Config == nil {
		return nil, errors.New("lifecycle service requires a config", errors.CategoryBadInput)
	}
	if deps.Sanitizer == nil {
		return nil, errors.New("lifecycle service requires a credential sanitizer", errors.CategoryBadInput)
	}
	if deps.Resolver == nil {
		return nil, errors.New("lifecycle service requires a role resolver", errors.CategoryBadInput)
	}
	if deps.Guard == nil {
		return nil, errors.New("lifecycle service requires an admin invariant guard", errors.CategoryBadInput)
	}

	svc := &AccountLifecycleService{
		repo:      deps.Repo,
		cfg:       deps.Config,
		sanitizer: deps.Sanitizer,
		resolver:  deps.Resolver,
		guard:     deps.Guard,
		emailFlow: deps.EmailFlow,
		mailer:    normalizeMailer(deps.Mailer),
		activity:  normalizeActivitySink(deps.Activity),
		logger:    normalizeLogger(deps.Logger),
	}

	if svc.emailFlow == nil {
		svc.emailFlow = NewEmailChangeFlow(deps.Repo, deps.Config).
			WithMailer(svc.mailer).
			WithActivitySink(svc.activity).
			WithLogger(svc.logger)
	}

	return svc, nil
}

// Create registers a new account. A locally authenticated account created
// without a password gets an unguessable random credential plus a reset token
// so the owner sets their own password through the reset flow; the account is
// never left passwordless.
func (s *AccountLifecycleService) Create(ctx context.Context, dto AccountDto) (*Account, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	account := dto.ToAccount(s.cfg.GetPhoneRegion())
	if account.Source == "" {
		account.Source = SourceLocal
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	roles, err := s.resolver.Resolve(ctx, dto.Roles)
	if err != nil {
		return nil, err
	}

	password := dto.Password
	resetToken := ""
	if account.HasLocalAuthentication() && strings.TrimSpace(password) == "" {
		password = RandomPassword()
		resetToken = uuid.NewString()
		account.PasswordResetToken = resetToken
	}

	if err := s.sanitizer.SanitizeAgainst(account, nil, password); err != nil {
		return nil, err
	}
	// every account carries a nonce from birth, external sources included
	if account.Nonce == "" {
		account.Nonce = GenerateNonce()
	}

	var created *Account
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.ensureEmailFree(ctx, tx, account.Email, uuid.Nil); err != nil {
			return err
		}

		record, err := s.repo.Accounts().CreateTx(ctx, tx, account)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to persist account")
		}

		if err := s.repo.Accounts().ReplaceRolesTx(ctx, tx, record.ID, roles); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to persist account roles")
		}

		record.Roles = roles
		created = record
		return nil
	})
	if err != nil {
		return nil, richOrInternal(err, "failed to create account")
	}

	if resetToken != "" {
		dispatchMail(ctx, s.logger, "new account", func(ctx context.Context) error {
			return s.mailer.SendNewAccountToken(ctx, created.Email, resetToken, created.GetLocale())
		})
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventAccountCreated,
		Actor:     ActorRef{ID: created.ID.String(), Type: "user"},
		AccountID: created.ID.String(),
		Metadata:  map[string]any{"email": created.Email, "source": created.Source},
	})

	return created, nil
}

// Update replaces the account's profile and role set with the payload. The
// authentication source is immutable here; an email change routes through the
// verification flow when that is enabled, otherwise it is written directly.
func (s *AccountLifecycleService) Update(ctx context.Context, id uuid.UUID, dto AccountDto) (*Account, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	roles, err := s.resolver.Resolve(ctx, dto.Roles)
	if err != nil {
		return nil, err
	}

	var updated *Account
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.repo.Accounts().GetWithRolesTx(ctx, tx, id)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrAccountNotFound
			}
			return errors.Wrap(err, errors.CategoryInternal, "failed to load account")
		}

		if err := s.guard.CheckRemainingAdmin(ctx, tx, id, roles); err != nil {
			return err
		}

		incoming := dto.ToAccount(s.cfg.GetPhoneRegion())
		existing.FirstName = incoming.FirstName
		existing.LastName = incoming.LastName
		existing.Phone = incoming.Phone
		existing.Mobile = incoming.Mobile
		existing.Locale = incoming.Locale

		if err := s.applyEmail(ctx, tx, existing, incoming.Email, false); err != nil {
			return err
		}

		if err := s.sanitizer.SanitizeAgainst(existing, existing, dto.Password); err != nil {
			return err
		}

		record, err := s.repo.Accounts().UpdateTx(ctx, tx, existing)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to persist account")
		}

		if err := s.repo.Accounts().ReplaceRolesTx(ctx, tx, id, roles); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to persist account roles")
		}

		record.Roles = roles
		updated = record
		return nil
	})
	if err != nil {
		return nil, richOrInternal(err, "failed to update account")
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventAccountUpdated,
		Actor:     ActorRef{ID: id.String(), Type: "user"},
		AccountID: id.String(),
	})

	return updated, nil
}

// Patch applies a partial mutation. Only recognized field keys are applied,
// unknown keys are ignored; the role field accepts names, maps, or role
// objects and an explicit empty collection clears the role set.
func (s *AccountLifecycleService) Patch(ctx context.Context, id uuid.UUID, fields map[string]any) (*Account, error) {
	return s.patch(ctx, id, fields, false)
}

// SelfUpdate is the self-service variant of Patch: only profile fields may be
// touched and any other key is rejected, not ignored. A repeated email change
// request for an address already pending verification is reported back.
func (s *AccountLifecycleService) SelfUpdate(ctx context.Context, id uuid.UUID, fields map[string]any) (*Account, error) {
	for key := range fields {
		if _, ok := selfUpdateFields[key]; !ok {
			return nil, errors.New("field cannot be changed through profile update", errors.CategoryValidation).
				WithTextCode(TextCodeValidation).
				WithMetadata(map[string]any{"field": key})
		}
	}
	return s.patch(ctx, id, fields, true)
}

func (s *AccountLifecycleService) patch(ctx context.Context, id uuid.UUID, fields map[string]any, selfService bool) (*Account, error) {
	var roles []*Role
	if raw, ok := fields[FieldRoles]; ok {
		patch, err := ParseRolePatch(raw)
		if err != nil {
			return nil, err
		}
		roles, err = s.resolver.ResolvePatch(ctx, patch)
		if err != nil {
			return nil, err
		}
	}

	var patched *Account
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.repo.Accounts().GetWithRolesTx(ctx, tx, id)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrAccountNotFound
			}
			return errors.Wrap(err, errors.CategoryInternal, "failed to load account")
		}

		if roles != nil {
			if err := s.guard.CheckRemainingAdmin(ctx, tx, id, roles); err != nil {
				return err
			}
		}

		if err := s.applyProfileFields(existing, fields); err != nil {
			return err
		}

		if raw, ok := fields[FieldEmail]; ok {
			email, err := stringField(FieldEmail, raw)
			if err != nil {
				return err
			}
			if err := s.applyEmail(ctx, tx, existing, NormalizeEmail(email), selfService); err != nil {
				return err
			}
		}

		password := ""
		if raw, ok := fields[FieldPassword]; ok {
			password, err = stringField(FieldPassword, raw)
			if err != nil {
				return err
			}
		}
		if err := s.sanitizer.SanitizeAgainst(existing, existing, password); err != nil {
			return err
		}

		record, err := s.repo.Accounts().UpdateTx(ctx, tx, existing)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to persist account")
		}

		if roles != nil {
			if err := s.repo.Accounts().ReplaceRolesTx(ctx, tx, id, roles); err != nil {
				return errors.Wrap(err, errors.CategoryInternal, "failed to persist account roles")
			}
			record.Roles = roles
		} else {
			record.Roles = existing.Roles
		}

		patched = record
		return nil
	})
	if err != nil {
		return nil, richOrInternal(err, "failed to patch account")
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventAccountUpdated,
		Actor:     ActorRef{ID: id.String(), Type: "user"},
		AccountID: id.String(),
	})

	return patched, nil
}

// Delete removes the account and its role associations, then revokes every
// session the owner still holds. The admin invariant is checked inside the
// same transaction as the delete.
func (s *AccountLifecycleService) Delete(ctx context.Context, id uuid.UUID) error {
	var deleted *Account
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.repo.Accounts().GetWithRolesTx(ctx, tx, id)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrAccountNotFound
			}
			return errors.Wrap(err, errors.CategoryInternal, "failed to load account")
		}

		if err := s.guard.CheckDeletion(ctx, tx, id, existing.Roles); err != nil {
			return err
		}

		if err := s.repo.Accounts().DeleteAccountTx(ctx, tx, id); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to delete account")
		}

		deleted = existing
		return nil
	})
	if err != nil {
		return richOrInternal(err, "failed to delete account")
	}

	// sessions are keyed by email; a failure here leaves tokens that can no
	// longer renew against the deleted account, so logging is enough
	if err := s.repo.SessionTokens().DeleteByUsername(ctx, deleted.Email); err != nil {
		s.logger.Warn("failed to revoke sessions for deleted account %s: %v", id.String(), err)
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventAccountDeleted,
		Actor:     ActorRef{ID: id.String(), Type: "user"},
		AccountID: id.String(),
		Metadata:  map[string]any{"email": deleted.Email},
	})

	return nil
}

// UpdatePassword is the self-service credential change: the caller proves
// knowledge of the current password before the replacement is installed. The
// nonce rotation performed by the sanitizer invalidates every outstanding
// session token.
func (s *AccountLifecycleService) UpdatePassword(ctx context.Context, id uuid.UUID, req PasswordUpdateRequest) (*Account, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var updated *Account
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.repo.Accounts().GetWithRolesTx(ctx, tx, id)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrAccountNotFound
			}
			return errors.Wrap(err, errors.CategoryInternal, "failed to load account")
		}

		if !existing.HasLocalAuthentication() {
			return ErrNonLocalCredential
		}

		if err := ComparePasswordAndHash(req.Verification, existing.PasswordHash); err != nil {
			return ErrMismatchedHashAndPassword
		}

		if err := s.sanitizer.SanitizeAgainst(existing, existing, req.Password); err != nil {
			return err
		}

		updated, err = s.repo.Accounts().UpdateTx(ctx, tx, existing)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to persist credential")
		}

		return nil
	})
	if err != nil {
		return nil, richOrInternal(err, "failed to update password")
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     ActorRef{ID: id.String(), Type: "user"},
		AccountID: id.String(),
	})

	return updated, nil
}

// applyEmail routes an email mutation: a no-op when unchanged, staged behind
// verification when that is enabled, a direct write otherwise.
func (s *AccountLifecycleService) applyEmail(ctx context.Context, tx bun.IDB, account *Account, proposed string, trackDuplicates bool) error {
	if proposed == "" || account.EmailEquals(proposed) {
		return nil
	}

	if s.cfg.GetEmailVerificationEnabled() {
		if trackDuplicates {
			return s.emailFlow.StartAndTrackDuplication(ctx, account, proposed)
		}
		return s.emailFlow.StartIfNeeded(ctx, account, proposed)
	}

	if err := s.ensureEmailFree(ctx, tx, proposed, account.ID); err != nil {
		return err
	}
	account.Email = proposed
	return nil
}

func (s *AccountLifecycleService) ensureEmailFree(ctx context.Context, tx bun.IDB, email string, selfID uuid.UUID) error {
	holder, err := s.repo.Accounts().GetByEmailTx(ctx, tx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil
		}
		return errors.Wrap(err, errors.CategoryInternal, "failed to check email uniqueness")
	}

	if holder.ID != selfID {
		return ErrDuplicateAccount
	}
	return nil
}

func (s *AccountLifecycleService) applyProfileFields(account *Account, fields map[string]any) error {
	region := s.cfg.GetPhoneRegion()

	for key, raw := range fields {
		switch key {
		case FieldFirstName:
			value, err := stringField(key, raw)
			if err != nil {
				return err
			}
			account.FirstName = strings.TrimSpace(value)
		case FieldLastName:
			value, err := stringField(key, raw)
			if err != nil {
				return err
			}
			account.LastName = strings.TrimSpace(value)
		case FieldPhone:
			value, err := stringField(key, raw)
			if err != nil {
				return err
			}
			account.Phone = NormalizePhone(value, region)
		case FieldMobile:
			value, err := stringField(key, raw)
			if err != nil {
				return err
			}
			account.Mobile = NormalizePhone(value, region)
		case FieldLocale:
			value, err := stringField(key, raw)
			if err != nil {
				return err
			}
			account.Locale = strings.TrimSpace(value)
		case FieldLoginDisabled:
			value, ok := raw.(bool)
			if !ok {
				return fieldTypeError(key, raw)
			}
			account.LoginDisabled = value
		}
	}

	return nil
}

func stringField(key string, raw any) (string, error) {
	value, ok := raw.(string)
	if !ok {
		return "", fieldTypeError(key, raw)
	}
	return value, nil
}

func fieldTypeError(key string, raw any) error {
	return errors.New("field has an unexpected type", errors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithMetadata(map[string]any{"field": key, "got": raw})
}

// richOrInternal passes rich errors through untouched and wraps anything else
// as an internal failure with the given message.
func richOrInternal(err error, msg string) error {
	var rich *errors.Error
	if errors.As(err, &rich) {
		return rich
	}
	return errors.Wrap(err, errors.CategoryInternal, msg)
}
