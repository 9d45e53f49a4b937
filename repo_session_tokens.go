package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionTokenStore persists issued refresh tokens so they can be listed,
// renewed against, and revoked per device.
type SessionTokenStore interface {
	Save(ctx context.Context, token *SessionToken) error
	GetByID(ctx context.Context, username string, id uuid.UUID) (*SessionToken, error)
	ListByUsername(ctx context.Context, username string) ([]*SessionToken, error)
	Delete(ctx context.Context, username string, id uuid.UUID) error
	DeleteByUsername(ctx context.Context, username string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionTokenStore struct {
	db *bun.DB
}

var _ SessionTokenStore = (*sessionTokenStore)(nil)

// NewSessionTokenStore builds the session token store.
func NewSessionTokenStore(db *bun.DB) SessionTokenStore {
	return &sessionTokenStore{db: db}
}

func (s *sessionTokenStore) Save(ctx context.Context, token *SessionToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	_, err := s.db.NewInsert().
		Model(token).
		On("CONFLICT (id) DO UPDATE").
		Set("expires_at = EXCLUDED.expires_at").
		Set("user_agent = EXCLUDED.user_agent").
		Exec(ctx)
	return err
}

func (s *sessionTokenStore) GetByID(ctx context.Context, username string, id uuid.UUID) (*SessionToken, error) {
	record := &SessionToken{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.username = ?", username).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id.String(), "username": username})
		}
		return nil, err
	}

	return record, nil
}

func (s *sessionTokenStore) ListByUsername(ctx context.Context, username string) ([]*SessionToken, error) {
	var records []*SessionToken
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.username = ?", username).
		Order("issued_at DESC").
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return records, nil
}

func (s *sessionTokenStore) Delete(ctx context.Context, username string, id uuid.UUID) error {
	res, err := s.db.NewDelete().
		Model((*SessionToken)(nil)).
		Where("id = ?", id).
		Where("username = ?", username).
		Exec(ctx)
	if err != nil {
		return err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String(), "username": username})
	}

	return nil
}

func (s *sessionTokenStore) DeleteByUsername(ctx context.Context, username string) error {
	_, err := s.db.NewDelete().
		Model((*SessionToken)(nil)).
		Where("username = ?", username).
		Exec(ctx)
	return err
}

func (s *sessionTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*SessionToken)(nil)).
		Where("expires_at < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}

	return affected, nil
}
