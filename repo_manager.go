package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Accounts() Accounts
	Roles() Roles
	SessionTokens() SessionTokenStore
}

type mngr struct {
	db            *bun.DB
	accounts      Accounts
	roles         Roles
	sessionTokens SessionTokenStore
}

// NewRepositoryManager wires the repositories over a shared bun handle.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:            db,
		accounts:      NewAccountsRepository(db),
		roles:         NewRolesRepository(db),
		sessionTokens: NewSessionTokenStore(db),
	}
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	if m.sessionTokens == nil {
		return errors.New("repository sessionTokens should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) Roles() Roles {
	return m.roles
}

func (m mngr) SessionTokens() SessionTokenStore {
	return m.sessionTokens
}
