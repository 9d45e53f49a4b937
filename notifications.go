package identity

import (
	"context"
)

// Mailer is the outbound notification collaborator. Transport and template
// rendering live outside this package; implementations are expected to be
// safe for concurrent use.
type Mailer interface {
	// SendResetToken delivers a password reset token to an existing account.
	SendResetToken(ctx context.Context, email, token, locale string) error
	// SendNewAccountToken delivers the initial reset token for an account
	// created without a password.
	SendNewAccountToken(ctx context.Context, email, token, locale string) error
	// SendEmailVerification delivers an email change verification token to
	// the proposed address.
	SendEmailVerification(ctx context.Context, email, token, locale string) error
}

type noopMailer struct{}

func (noopMailer) SendResetToken(context.Context, string, string, string) error        { return nil }
func (noopMailer) SendNewAccountToken(context.Context, string, string, string) error   { return nil }
func (noopMailer) SendEmailVerification(context.Context, string, string, string) error { return nil }

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return noopMailer{}
	}
	return m
}

// dispatchMail runs send without blocking the caller's success path. Mail
// failures are observed and logged, never propagated: the triggering mutation
// has already been committed and must not be rolled back for a downstream
// notification fault.
func dispatchMail(ctx context.Context, logger Logger, what string, send func(ctx context.Context) error) {
	log := normalizeLogger(logger)
	ctx = context.WithoutCancel(ctx)

	go func() {
		if err := send(ctx); err != nil {
			log.Error("failed to send %s mail: %v", what, err)
		}
	}()
}
