package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EmailChangeFlow stages a pending email change behind a verification token.
// The externally visible email never changes until Confirm succeeds; update
// and patch requests that carry a new email route through StartIfNeeded and
// keep the stored email as is.
type EmailChangeFlow struct {
	repo     RepositoryManager
	cfg      Config
	mailer   Mailer
	activity ActivitySink
	logger   Logger
}

// NewEmailChangeFlow creates the flow with sane defaults.
func NewEmailChangeFlow(repo RepositoryManager, cfg Config) *EmailChangeFlow {
	return &EmailChangeFlow{
		repo:     repo,
		cfg:      cfg,
		mailer:   noopMailer{},
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (f *EmailChangeFlow) WithMailer(m Mailer) *EmailChangeFlow {
	f.mailer = normalizeMailer(m)
	return f
}

func (f *EmailChangeFlow) WithActivitySink(sink ActivitySink) *EmailChangeFlow {
	f.activity = normalizeActivitySink(sink)
	return f
}

func (f *EmailChangeFlow) WithLogger(l Logger) *EmailChangeFlow {
	if l != nil {
		f.logger = l
	}
	return f
}

// StartIfNeeded stages a verification for proposedEmail on the account. It
// is a no-op when the proposal is empty or matches the current email case
// insensitively. A pending change for another address is superseded; one for
// the same address is re-issued (last writer wins). The mutation is in
// memory only, persisting the account is the caller's responsibility.
func (f *EmailChangeFlow) StartIfNeeded(ctx context.Context, account *Account, proposedEmail string) error {
	return f.start(ctx, account, proposedEmail, false)
}

// StartAndTrackDuplication behaves like StartIfNeeded but reports a pending
// change for the same address back to the caller instead of silently
// re-issuing. Used by the self-service profile update path.
func (f *EmailChangeFlow) StartAndTrackDuplication(ctx context.Context, account *Account, proposedEmail string) error {
	return f.start(ctx, account, proposedEmail, true)
}

func (f *EmailChangeFlow) start(ctx context.Context, account *Account, proposedEmail string, trackDuplicates bool) error {
	proposed := NormalizeEmail(proposedEmail)
	if proposed == "" || account.EmailEquals(proposed) {
		return nil
	}

	if trackDuplicates && account.HasPendingEmailChange() && account.EmailToVerify == proposed {
		return ErrDuplicatePendingChange
	}

	now := time.Now()
	expires := now.Add(hoursOrDefault(f.cfg.GetEmailVerifyExpiration(), 24*time.Hour))
	token := uuid.NewString()

	account.EmailToVerify = proposed
	account.EmailVerifyToken = token
	account.EmailVerifyExpiresAt = &expires
	account.EmailChangeRequestedAt = &now

	dispatchMail(ctx, f.logger, "email verification", func(ctx context.Context) error {
		return f.mailer.SendEmailVerification(ctx, proposed, token, account.GetLocale())
	})

	recordActivity(ctx, f.activity, f.logger, ActivityEvent{
		EventType: ActivityEventEmailChangeRequested,
		Actor:     ActorRef{ID: account.ID.String(), Type: "user"},
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"email_to_verify": proposed},
	})

	return nil
}

// Confirm completes the external confirmation path: it resolves the pending
// change by verification token, checks the expiry window, then commits the
// staged email and clears the pending block through a single conditional
// statement, so a token confirms at most once.
func (f *EmailChangeFlow) Confirm(ctx context.Context, token string) (*Account, error) {
	var confirmed *Account

	err := f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := f.repo.Accounts().GetByVerifyTokenTx(ctx, tx, token)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrInvalidVerifyToken
			}
			return errors.Wrap(err, errors.CategoryInternal, "failed to look up verification token")
		}

		if account.EmailVerifyExpiresAt == nil || time.Now().After(*account.EmailVerifyExpiresAt) {
			return ErrVerifyTokenExpired
		}

		confirmed, err = f.repo.Accounts().ConfirmVerifyTokenTx(ctx, tx, token)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				// the token was consumed between lookup and write
				return ErrInvalidVerifyToken
			}
			return errors.Wrap(err, errors.CategoryInternal, "failed to commit verified email")
		}

		return nil
	})

	if err != nil {
		return nil, richOrInternal(err, "failed to confirm email change")
	}

	recordActivity(ctx, f.activity, f.logger, ActivityEvent{
		EventType: ActivityEventEmailChangeConfirmed,
		Actor:     ActorRef{ID: confirmed.ID.String(), Type: "user"},
		AccountID: confirmed.ID.String(),
		Metadata:  map[string]any{"email": confirmed.Email},
	})

	return confirmed, nil
}
