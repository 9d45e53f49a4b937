package identity

import (
	"context"
	"database/sql"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PasswordResetFlow issues and redeems single-use password reset tokens.
type PasswordResetFlow struct {
	repo      RepositoryManager
	sanitizer *CredentialSanitizer
	mailer    Mailer
	activity  ActivitySink
	logger    Logger
}

// NewPasswordResetFlow creates the flow with sane defaults.
func NewPasswordResetFlow(repo RepositoryManager, sanitizer *CredentialSanitizer) *PasswordResetFlow {
	return &PasswordResetFlow{
		repo:      repo,
		sanitizer: sanitizer,
		mailer:    noopMailer{},
		activity:  noopActivitySink{},
		logger:    defLogger{},
	}
}

func (f *PasswordResetFlow) WithMailer(m Mailer) *PasswordResetFlow {
	f.mailer = normalizeMailer(m)
	return f
}

func (f *PasswordResetFlow) WithActivitySink(sink ActivitySink) *PasswordResetFlow {
	f.activity = normalizeActivitySink(sink)
	return f
}

func (f *PasswordResetFlow) WithLogger(l Logger) *PasswordResetFlow {
	if l != nil {
		f.logger = l
	}
	return f
}

// Request generates a fresh single-use reset token for the account behind
// username and dispatches it through the mail collaborator. A previously
// issued token is superseded. Mail dispatch failures are logged, never
// surfaced: the token is already persisted and the caller's request has
// succeeded.
func (f *PasswordResetFlow) Request(ctx context.Context, username string) error {
	account, err := f.repo.Accounts().GetByLogin(ctx, username)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrAccountNotFound
		}
		return errors.Wrap(err, errors.CategoryInternal, "failed to retrieve account for password reset")
	}

	if !account.HasLocalAuthentication() {
		return errors.Wrap(ErrNonLocalCredential, errors.CategoryAuthz, "cannot reset password for externally authenticated account").
			WithTextCode(TextCodeNotAllowed).
			WithMetadata(map[string]any{"source": account.Source})
	}

	token := uuid.NewString()

	err = f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &Account{
			ID:                 account.ID,
			PasswordResetToken: token,
		}
		// the record is sparse, so restrict the write to the token column
		_, err := f.repo.Accounts().UpdateTx(ctx, tx, record,
			repository.UpdateColumns("password_reset_token"))
		return err
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to persist password reset token")
	}

	dispatchMail(ctx, f.logger, "password reset", func(ctx context.Context) error {
		return f.mailer.SendResetToken(ctx, account.Email, token, account.GetLocale())
	})

	recordActivity(ctx, f.activity, f.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor:     ActorRef{ID: account.ID.String(), Type: "user"},
		AccountID: account.ID.String(),
	})

	return nil
}

// Redeem looks up the account holding the given reset token, installs the
// new password, re-enables login and clears the token. The clear happens in
// the same conditional statement as the credential write, so a token can be
// redeemed successfully at most once.
func (f *PasswordResetFlow) Redeem(ctx context.Context, token, newPassword string) (*Account, error) {
	var redeemed *Account

	err := f.repo.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		account, err := f.repo.Accounts().GetByResetTokenTx(ctx, tx, token)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrInvalidResetToken
			}
			return errors.Wrap(err, errors.CategoryInternal, "failed to look up reset token")
		}

		if err := f.sanitizer.SanitizeAgainst(account, account, newPassword); err != nil {
			return err
		}

		redeemed, err = f.repo.Accounts().RedeemResetTokenTx(ctx, tx, token, account.PasswordHash, account.Nonce)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				// the token was cleared between lookup and write
				return ErrInvalidResetToken
			}
			return errors.Wrap(err, errors.CategoryInternal, "failed to redeem reset token")
		}

		return nil
	})

	if err != nil {
		return nil, richOrInternal(err, "failed to finalize password reset")
	}

	recordActivity(ctx, f.activity, f.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     ActorRef{ID: redeemed.ID.String(), Type: "user"},
		AccountID: redeemed.ID.String(),
	})

	return redeemed, nil
}
