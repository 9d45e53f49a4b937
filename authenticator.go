package identity

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// Authenticator verifies login credentials and opens sessions.
type Authenticator struct {
	repo     RepositoryManager
	sessions SessionTokens
	activity ActivitySink
	logger   Logger
}

// NewAuthenticator creates an authenticator over the shared repositories and
// the session token service.
func NewAuthenticator(repo RepositoryManager, sessions SessionTokens) *Authenticator {
	return &Authenticator{
		repo:     repo,
		sessions: sessions,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (a *Authenticator) WithActivitySink(sink ActivitySink) *Authenticator {
	a.activity = normalizeActivitySink(sink)
	return a
}

func (a *Authenticator) WithLogger(l Logger) *Authenticator {
	if l != nil {
		a.logger = l
	}
	return a
}

// Authenticate verifies the credential pair and issues a refresh token bound
// to the client. Unknown identifiers and wrong passwords fail with the same
// error so the response does not reveal which accounts exist.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string, client ClientContext) (string, error) {
	account, err := a.repo.Accounts().GetByLogin(ctx, username)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			a.emitLoginFailure(ctx, username, "", ErrMismatchedHashAndPassword)
			return "", ErrMismatchedHashAndPassword
		}
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to resolve login identifier")
	}

	if account.LoginDisabled {
		a.emitLoginFailure(ctx, username, account.ID.String(), ErrLoginDisabled)
		return "", ErrLoginDisabled
	}

	if !account.HasLocalAuthentication() {
		a.emitLoginFailure(ctx, username, account.ID.String(), ErrNonLocalCredential)
		return "", ErrNonLocalCredential
	}

	if err := ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		a.emitLoginFailure(ctx, username, account.ID.String(), ErrMismatchedHashAndPassword)
		return "", ErrMismatchedHashAndPassword
	}

	token, err := a.sessions.Login(ctx, accountIdentity{account}, client)
	if err != nil {
		return "", err
	}

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: account.ID.String(), Type: "user"},
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"identifier": username},
	})

	return token, nil
}

// RenewSession exchanges a refresh token for a fresh access token.
func (a *Authenticator) RenewSession(ctx context.Context, refreshToken string, client ClientContext) (string, error) {
	return a.sessions.Renew(ctx, refreshToken, client)
}

func (a *Authenticator) emitLoginFailure(ctx context.Context, identifier, accountID string, cause error) {
	actor := ActorRef{Type: "unknown"}
	if accountID != "" {
		actor = ActorRef{ID: accountID, Type: "user"}
	}

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     actor,
		AccountID: accountID,
		Metadata:  map[string]any{"identifier": identifier, "error": cause.Error()},
	})
}

// accountIdentity adapts a persisted account to the identity surface the
// session token service consumes.
type accountIdentity struct {
	account *Account
}

var (
	_ Identity           = accountIdentity{}
	_ nonceAwareIdentity = accountIdentity{}
)

func (i accountIdentity) ID() string {
	return i.account.ID.String()
}

func (i accountIdentity) Username() string {
	return i.account.Email
}

func (i accountIdentity) Email() string {
	return i.account.Email
}

func (i accountIdentity) Roles() []string {
	return i.account.RoleNames()
}

func (i accountIdentity) Nonce() string {
	return i.account.Nonce
}
