package identity

import (
	"context"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Roles is the role catalog repository surface. It satisfies RoleCatalog, so
// the resolver and guard read through the same store the catalog owner
// maintains.
type Roles interface {
	repository.Repository[*Role]
	RoleCatalog

	GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Role, error)
}

type roles struct {
	repository.Repository[*Role]
	db *bun.DB
}

var (
	_ Roles                        = (*roles)(nil)
	_ RoleCatalog                  = (*roles)(nil)
	_ repository.Repository[*Role] = (*roles)(nil)
)

// NewRolesRepository builds the role catalog repository.
func NewRolesRepository(db *bun.DB) Roles {
	repo := repository.NewRepository[*Role](db, repository.ModelHandlers[*Role]{
		NewRecord: func() *Role { return &Role{} },
		GetID: func(r *Role) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Role, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
		GetIdentifierValue: func(r *Role) string {
			if r == nil {
				return ""
			}
			return r.Name
		},
	})

	return &roles{
		Repository: repo,
		db:         db,
	}
}

func (r *roles) GetByName(ctx context.Context, name string) (*Role, error) {
	return r.GetByNameTx(ctx, r.db, name)
}

func (r *roles) GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Role, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, repository.NewRecordNotFound()
	}

	record := &Role{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", trimmed).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"name": name})
		}
		return nil, err
	}

	return record, nil
}

// DefaultRole returns the catalog fallback, or nil when none is configured.
func (r *roles) DefaultRole(ctx context.Context) (*Role, error) {
	record := &Role{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.is_default_role = TRUE").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return record, nil
}

func (r *roles) AdminRoles(ctx context.Context) ([]*Role, error) {
	var records []*Role
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.is_admin = TRUE").
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return records, nil
}
