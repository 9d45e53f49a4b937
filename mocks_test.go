package identity_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity"
)

// testConfig implements identity.Config
type testConfig struct {
	signingKey        string
	issuer            string
	audience          []string
	tokenExpiration   int
	refreshExpiration int
	emailVerification bool
	verifyExpiration  int
	defaultLocale     string
	phoneRegion       string
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey:        "test-signing-key",
		issuer:            "test-issuer",
		audience:          []string{"test-audience"},
		tokenExpiration:   1,
		refreshExpiration: 720,
		verifyExpiration:  24,
		defaultLocale:     "en",
		phoneRegion:       "US",
	}
}

func (c *testConfig) GetSigningKey() string             { return c.signingKey }
func (c *testConfig) GetIssuer() string                 { return c.issuer }
func (c *testConfig) GetAudience() []string             { return c.audience }
func (c *testConfig) GetTokenExpiration() int           { return c.tokenExpiration }
func (c *testConfig) GetRefreshExpiration() int         { return c.refreshExpiration }
func (c *testConfig) GetEmailVerificationEnabled() bool { return c.emailVerification }
func (c *testConfig) GetEmailVerifyExpiration() int     { return c.verifyExpiration }
func (c *testConfig) GetDefaultLocale() string          { return c.defaultLocale }
func (c *testConfig) GetPhoneRegion() string            { return c.phoneRegion }

// MockRoleCatalog implements identity.RoleCatalog
type MockRoleCatalog struct {
	mock.Mock
}

func (m *MockRoleCatalog) GetByName(ctx context.Context, name string) (*identity.Role, error) {
	args := m.Called(ctx, name)
	role, _ := args.Get(0).(*identity.Role)
	return role, args.Error(1)
}

func (m *MockRoleCatalog) DefaultRole(ctx context.Context) (*identity.Role, error) {
	args := m.Called(ctx)
	role, _ := args.Get(0).(*identity.Role)
	return role, args.Error(1)
}

func (m *MockRoleCatalog) AdminRoles(ctx context.Context) ([]*identity.Role, error) {
	args := m.Called(ctx)
	roles, _ := args.Get(0).([]*identity.Role)
	return roles, args.Error(1)
}

// MockCredentialStore implements identity.CredentialStore
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*identity.Account, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*identity.Account)
	return account, args.Error(1)
}

// MockAdminChecker implements identity.AdminChecker
type MockAdminChecker struct {
	mock.Mock
}

func (m *MockAdminChecker) ExistsOtherAdminTx(ctx context.Context, tx bun.IDB, adminRoles []string, excludedID uuid.UUID) (bool, error) {
	args := m.Called(ctx, adminRoles, excludedID)
	return args.Bool(0), args.Error(1)
}

// MockAccounts overrides the account repository methods the services touch;
// anything else panics loudly through the embedded nil interface.
type MockAccounts struct {
	identity.Accounts
	mock.Mock
}

func (m *MockAccounts) GetByLogin(ctx context.Context, identifier string) (*identity.Account, error) {
	args := m.Called(ctx, identifier)
	account, _ := args.Get(0).(*identity.Account)
	return account, args.Error(1)
}

func (m *MockAccounts) GetWithRolesTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*identity.Account, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*identity.Account)
	return account, args.Error(1)
}

func (m *MockAccounts) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*identity.Account, error) {
	args := m.Called(ctx, email)
	account, _ := args.Get(0).(*identity.Account)
	return account, args.Error(1)
}

func (m *MockAccounts) GetByResetTokenTx(ctx context.Context, tx bun.IDB, token string) (*identity.Account, error) {
	args := m.Called(ctx, token)
	account, _ := args.Get(0).(*identity.Account)
	return account, args.Error(1)
}

func (m *MockAccounts) GetByVerifyTokenTx(ctx context.Context, tx bun.IDB, token string) (*identity.Account, error) {
	args := m.Called(ctx, token)
	account, _ := args.Get(0).(*identity.Account)
	return account, args.Error(1)
}

func (m *MockAccounts) CreateTx(ctx context.Context, tx bun.IDB, record *identity.Account, criteria ...repository.InsertCriteria) (*identity.Account, error) {
	args := m.Called(ctx, record)
	account, _ := args.Get(0).(*identity.Account)
	return account, args.Error(1)
}

func (m *MockAccounts) UpdateTx(ctx context.Context, tx bun.IDB, record *identity.Account, criteria ...repository.UpdateCriteria) (*identity.Account, error) {
	args := m.Called(ctx, record)
	account, _ := args.Get(0).(*identity.Account)
	return account, args.Error(1)
}

func (m *MockAccounts) ReplaceRolesTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, roles []*identity.Role) error {
	args := m.Called(ctx, accountID, roles)
	return args.Error(0)
}

func (m *MockAccounts) RedeemResetTokenTx(ctx context.Context, tx bun.IDB, token, passwordHash, nonce string) (*identity.Account, error) {
	args := m.Called(ctx, token, passwordHash, nonce)
	account, _ := args.Get(0).(*identity.Account)
	return account, args.Error(1)
}

func (m *MockAccounts) ConfirmVerifyTokenTx(ctx context.Context, tx bun.IDB, token string) (*identity.Account, error) {
	args := m.Called(ctx, token)
	account, _ := args.Get(0).(*identity.Account)
	return account, args.Error(1)
}

func (m *MockAccounts) DeleteAccountTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAccounts) ExistsOtherAdminTx(ctx context.Context, tx bun.IDB, adminRoles []string, excludedID uuid.UUID) (bool, error) {
	args := m.Called(ctx, adminRoles, excludedID)
	return args.Bool(0), args.Error(1)
}

// memorySessionStore is an in-memory identity.SessionTokenStore
type memorySessionStore struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]*identity.SessionToken
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{tokens: map[uuid.UUID]*identity.SessionToken{}}
}

func (s *memorySessionStore) Save(ctx context.Context, token *identity.SessionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	copied := *token
	s.tokens[token.ID] = &copied
	return nil
}

func (s *memorySessionStore) GetByID(ctx context.Context, username string, id uuid.UUID) (*identity.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok || token.Username != username {
		return nil, repository.NewRecordNotFound()
	}
	copied := *token
	return &copied, nil
}

func (s *memorySessionStore) ListByUsername(ctx context.Context, username string) ([]*identity.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*identity.SessionToken
	for _, token := range s.tokens {
		if token.Username == username {
			copied := *token
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memorySessionStore) Delete(ctx context.Context, username string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok || token.Username != username {
		return repository.NewRecordNotFound()
	}
	delete(s.tokens, id)
	return nil
}

func (s *memorySessionStore) DeleteByUsername(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, token := range s.tokens {
		if token.Username == username {
			delete(s.tokens, id)
		}
	}
	return nil
}

func (s *memorySessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, token := range s.tokens {
		if token.Expired(now) {
			delete(s.tokens, id)
			count++
		}
	}
	return count, nil
}

func (s *memorySessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// testRepo implements identity.RepositoryManager over test doubles
type testRepo struct {
	accounts identity.Accounts
	roles    identity.Roles
	sessions identity.SessionTokenStore
}

func (r *testRepo) Validate() error { return nil }

func (r *testRepo) MustValidate() {}

func (r *testRepo) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (r *testRepo) Accounts() identity.Accounts { return r.accounts }

func (r *testRepo) Roles() identity.Roles { return r.roles }

func (r *testRepo) SessionTokens() identity.SessionTokenStore { return r.sessions }

// captureMailer records deliveries; Sent waits so tests can assert on the
// asynchronous dispatch path.
type captureMailer struct {
	deliveries chan mailDelivery
}

type mailDelivery struct {
	kind   string
	email  string
	token  string
	locale string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{deliveries: make(chan mailDelivery, 8)}
}

func (m *captureMailer) SendResetToken(ctx context.Context, email, token, locale string) error {
	m.deliveries <- mailDelivery{kind: "reset", email: email, token: token, locale: locale}
	return nil
}

func (m *captureMailer) SendNewAccountToken(ctx context.Context, email, token, locale string) error {
	m.deliveries <- mailDelivery{kind: "new-account", email: email, token: token, locale: locale}
	return nil
}

func (m *captureMailer) SendEmailVerification(ctx context.Context, email, token, locale string) error {
	m.deliveries <- mailDelivery{kind: "verify", email: email, token: token, locale: locale}
	return nil
}

func (m *captureMailer) waitForDelivery(timeout time.Duration) (mailDelivery, bool) {
	select {
	case d := <-m.deliveries:
		return d, true
	case <-time.After(timeout):
		return mailDelivery{}, false
	}
}

// captureSink records activity events
type captureSink struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (s *captureSink) Record(ctx context.Context, event identity.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) byType(eventType identity.ActivityEventType) []identity.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []identity.ActivityEvent
	for _, event := range s.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

func notFoundErr() error {
	return repository.NewRecordNotFound()
}
