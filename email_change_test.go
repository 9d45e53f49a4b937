package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-identity"
)

func newEmailFlow(accounts *MockAccounts, cfg *testConfig) (*identity.EmailChangeFlow, *captureMailer, *captureSink) {
	repo := &testRepo{accounts: accounts, sessions: newMemorySessionStore()}
	mailer := newCaptureMailer()
	sink := &captureSink{}

	flow := identity.NewEmailChangeFlow(repo, cfg).
		WithMailer(mailer).
		WithActivitySink(sink)

	return flow, mailer, sink
}

func TestEmailChangeStartIfNeeded(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	t.Run("stages a pending change and dispatches the token", func(t *testing.T) {
		account := &identity.Account{
			ID:    uuid.New(),
			Email: "old@example.com",
		}

		flow, mailer, sink := newEmailFlow(&MockAccounts{}, cfg)

		err := flow.StartIfNeeded(ctx, account, "New@Example.com")
		require.NoError(t, err)

		// visible email untouched, change staged
		assert.Equal(t, "old@example.com", account.Email)
		assert.Equal(t, "new@example.com", account.EmailToVerify)
		assert.NotEmpty(t, account.EmailVerifyToken)
		require.NotNil(t, account.EmailVerifyExpiresAt)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), *account.EmailVerifyExpiresAt, time.Minute)

		delivery, ok := mailer.waitForDelivery(time.Second)
		require.True(t, ok)
		assert.Equal(t, "verify", delivery.kind)
		assert.Equal(t, "new@example.com", delivery.email)
		assert.Equal(t, account.EmailVerifyToken, delivery.token)

		assert.Len(t, sink.byType(identity.ActivityEventEmailChangeRequested), 1)
	})

	t.Run("same address is a no-op", func(t *testing.T) {
		account := &identity.Account{Email: "same@example.com"}

		flow, mailer, _ := newEmailFlow(&MockAccounts{}, cfg)

		require.NoError(t, flow.StartIfNeeded(ctx, account, "Same@Example.COM"))
		assert.Empty(t, account.EmailToVerify)

		_, delivered := mailer.waitForDelivery(50 * time.Millisecond)
		assert.False(t, delivered)
	})

	t.Run("empty proposal is a no-op", func(t *testing.T) {
		account := &identity.Account{Email: "same@example.com"}

		flow, _, _ := newEmailFlow(&MockAccounts{}, cfg)

		require.NoError(t, flow.StartIfNeeded(ctx, account, "   "))
		assert.Empty(t, account.EmailToVerify)
	})

	t.Run("repeated request for the same address is re-issued", func(t *testing.T) {
		account := &identity.Account{Email: "old@example.com"}
		flow, _, _ := newEmailFlow(&MockAccounts{}, cfg)

		require.NoError(t, flow.StartIfNeeded(ctx, account, "new@example.com"))
		first := account.EmailVerifyToken

		require.NoError(t, flow.StartIfNeeded(ctx, account, "new@example.com"))
		assert.NotEqual(t, first, account.EmailVerifyToken)
	})
}

func TestEmailChangeStartAndTrackDuplication(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	t.Run("reports a pending duplicate", func(t *testing.T) {
		account := &identity.Account{Email: "old@example.com"}
		flow, _, _ := newEmailFlow(&MockAccounts{}, cfg)

		require.NoError(t, flow.StartAndTrackDuplication(ctx, account, "new@example.com"))

		err := flow.StartAndTrackDuplication(ctx, account, "new@example.com")
		assert.ErrorIs(t, err, identity.ErrDuplicatePendingChange)
	})

	t.Run("a different address supersedes the pending change", func(t *testing.T) {
		account := &identity.Account{Email: "old@example.com"}
		flow, _, _ := newEmailFlow(&MockAccounts{}, cfg)

		require.NoError(t, flow.StartAndTrackDuplication(ctx, account, "first@example.com"))
		require.NoError(t, flow.StartAndTrackDuplication(ctx, account, "second@example.com"))
		assert.Equal(t, "second@example.com", account.EmailToVerify)
	})
}

func TestEmailChangeConfirm(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()
	token := uuid.NewString()

	t.Run("commits the staged email", func(t *testing.T) {
		expires := time.Now().Add(time.Hour)
		account := &identity.Account{
			ID:                   uuid.New(),
			Email:                "old@example.com",
			EmailToVerify:        "new@example.com",
			EmailVerifyToken:     token,
			EmailVerifyExpiresAt: &expires,
		}
		committed := &identity.Account{
			ID:    account.ID,
			Email: "new@example.com",
		}

		accounts := &MockAccounts{}
		accounts.On("GetByVerifyTokenTx", ctx, token).Return(account, nil)
		accounts.On("ConfirmVerifyTokenTx", ctx, token).Return(committed, nil)

		flow, _, sink := newEmailFlow(accounts, cfg)

		confirmed, err := flow.Confirm(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", confirmed.Email)
		assert.Empty(t, confirmed.EmailToVerify)
		assert.Empty(t, confirmed.EmailVerifyToken)
		assert.Nil(t, confirmed.EmailVerifyExpiresAt)
		assert.Len(t, sink.byType(identity.ActivityEventEmailChangeConfirmed), 1)
		accounts.AssertExpectations(t)
	})

	t.Run("a consumed token cannot confirm again", func(t *testing.T) {
		expires := time.Now().Add(time.Hour)
		account := &identity.Account{
			ID:                   uuid.New(),
			Email:                "old@example.com",
			EmailToVerify:        "new@example.com",
			EmailVerifyToken:     token,
			EmailVerifyExpiresAt: &expires,
		}

		// the conditional write finds no row holding the token anymore
		accounts := &MockAccounts{}
		accounts.On("GetByVerifyTokenTx", ctx, token).Return(account, nil)
		accounts.On("ConfirmVerifyTokenTx", ctx, token).Return(nil, notFoundErr())

		flow, _, _ := newEmailFlow(accounts, cfg)

		_, err := flow.Confirm(ctx, token)
		assert.ErrorIs(t, err, identity.ErrInvalidVerifyToken)
	})

	t.Run("unknown token", func(t *testing.T) {
		accounts := &MockAccounts{}
		accounts.On("GetByVerifyTokenTx", ctx, "bogus").Return(nil, notFoundErr())

		flow, _, _ := newEmailFlow(accounts, cfg)

		_, err := flow.Confirm(ctx, "bogus")
		assert.ErrorIs(t, err, identity.ErrInvalidVerifyToken)
	})

	t.Run("expired token", func(t *testing.T) {
		expired := time.Now().Add(-time.Hour)
		account := &identity.Account{
			Email:                "old@example.com",
			EmailToVerify:        "new@example.com",
			EmailVerifyToken:     token,
			EmailVerifyExpiresAt: &expired,
		}

		accounts := &MockAccounts{}
		accounts.On("GetByVerifyTokenTx", ctx, token).Return(account, nil)

		flow, _, _ := newEmailFlow(accounts, cfg)

		_, err := flow.Confirm(ctx, token)
		assert.ErrorIs(t, err, identity.ErrVerifyTokenExpired)
		accounts.AssertNotCalled(t, "ConfirmVerifyTokenTx")
	})
}
