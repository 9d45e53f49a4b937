package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RedeemResetTokenSQL clears a reset token and installs the new credential in
// one conditional statement; the token match in the WHERE clause guarantees
// at most one successful redemption per token under concurrent requests.
var RedeemResetTokenSQL = `UPDATE "accounts" AS "acc"
SET
	"password_hash" = ?,
	"nonce" = ?,
	"login_disabled" = FALSE,
	"password_reset_token" = NULL
WHERE
	"acc"."deleted_at" IS NULL
AND (
	"acc"."password_reset_token" = ?
) RETURNING *;`

// ConfirmEmailChangeSQL commits a staged email change and clears the pending
// block in one conditional statement. The token match in the WHERE clause
// guarantees at most one successful confirmation per token, and the explicit
// NULL writes sidestep the ORM's skipping of zero valued columns.
var ConfirmEmailChangeSQL = `UPDATE "accounts" AS "acc"
SET
	"email" = lower("acc"."email_to_verify"),
	"email_to_verify" = NULL,
	"email_verify_token" = NULL,
	"email_verify_expires_at" = NULL,
	"email_change_requested_at" = NULL
WHERE
	"acc"."deleted_at" IS NULL
AND (
	"acc"."email_verify_token" = ?
) RETURNING *;`

// Accounts is the account repository surface
type Accounts interface {
	repository.Repository[*Account]

	GetWithRoles(ctx context.Context, id uuid.UUID) (*Account, error)
	GetWithRolesTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	GetByLogin(ctx context.Context, identifier string) (*Account, error)
	GetByResetTokenTx(ctx context.Context, tx bun.IDB, token string) (*Account, error)
	GetByVerifyTokenTx(ctx context.Context, tx bun.IDB, token string) (*Account, error)
	ExistsOtherAdminTx(ctx context.Context, tx bun.IDB, adminRoles []string, excludedID uuid.UUID) (bool, error)
	ReplaceRolesTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, roles []*Role) error
	RedeemResetTokenTx(ctx context.Context, tx bun.IDB, token, passwordHash, nonce string) (*Account, error)
	ConfirmVerifyTokenTx(ctx context.Context, tx bun.IDB, token string) (*Account, error)
	DeleteAccountTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var (
	_ Accounts                        = (*accounts)(nil)
	_ repository.Repository[*Account] = (*accounts)(nil)
	_ CredentialStore                 = (*accounts)(nil)
	_ AdminChecker                    = (*accounts)(nil)
)

// NewAccountsRepository builds the account repository and registers the role
// join model required by the m2m relation.
func NewAccountsRepository(db *bun.DB) Accounts {
	db.RegisterModel((*AccountRole)(nil))

	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
		GetIdentifierValue: func(a *Account) string {
			if a == nil {
				return ""
			}
			return a.Email
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (a *accounts) GetWithRoles(ctx context.Context, id uuid.UUID) (*Account, error) {
	return a.GetWithRolesTx(ctx, a.db, id)
}

func (a *accounts) GetWithRolesTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Relation("Roles").
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id.String()})
		}
		return nil, err
	}

	return record, nil
}

func (a *accounts) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *accounts) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Relation("Roles").
		Where("lower(?TableAlias.email) = lower(?)", strings.TrimSpace(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": email})
		}
		return nil, err
	}

	return record, nil
}

// GetByLogin resolves a login identifier that may be an account id or an
// email address, trying the most specific column first.
func (a *accounts) GetByLogin(ctx context.Context, identifier string) (*Account, error) {
	trimmed := strings.TrimSpace(identifier)

	options := make([]identifierOption, 0, 2)
	if IsUUID(trimmed) {
		options = append(options, identifierOption{column: "id", value: trimmed})
	}
	if IsEmail(trimmed) {
		options = append(options, identifierOption{column: "lower(?TableAlias.email)", raw: true, value: strings.ToLower(trimmed)})
	}
	if len(options) == 0 {
		options = append(options, identifierOption{column: "lower(?TableAlias.email)", raw: true, value: strings.ToLower(trimmed)})
	}

	for _, opt := range options {
		record := &Account{}
		q := a.db.NewSelect().Model(record).Relation("Roles")

		if opt.raw {
			q = q.Where(opt.column+" = ?", opt.value)
		} else {
			q = q.Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value)
		}

		err := q.Limit(1).Scan(ctx)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{"identifier": identifier})
}

func (a *accounts) GetByResetTokenTx(ctx context.Context, tx bun.IDB, token string) (*Account, error) {
	return a.getByTokenColumn(ctx, tx, "password_reset_token", token)
}

func (a *accounts) GetByVerifyTokenTx(ctx context.Context, tx bun.IDB, token string) (*Account, error) {
	return a.getByTokenColumn(ctx, tx, "email_verify_token", token)
}

func (a *accounts) getByTokenColumn(ctx context.Context, tx bun.IDB, column, token string) (*Account, error) {
	if strings.TrimSpace(token) == "" {
		return nil, repository.NewRecordNotFound()
	}

	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Relation("Roles").
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), token).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return record, nil
}

func (a *accounts) ExistsOtherAdminTx(ctx context.Context, tx bun.IDB, adminRoles []string, excludedID uuid.UUID) (bool, error) {
	if len(adminRoles) == 0 {
		return false, nil
	}

	return tx.NewSelect().
		Model((*Account)(nil)).
		Join(`JOIN accounts_roles AS acr ON acr.account_id = acc.id`).
		Join(`JOIN roles AS rol ON rol.id = acr.role_id`).
		Where("rol.name IN (?)", bun.In(adminRoles)).
		Where("?TableAlias.id != ?", excludedID).
		Exists(ctx)
}

// ReplaceRolesTx writes the role association with an explicit clear then
// reattach sequence: stale join rows and the new set never coexist in one
// statement, which avoids conflicts between an old and new association.
func (a *accounts) ReplaceRolesTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, roles []*Role) error {
	if _, err := tx.NewDelete().
		Model((*AccountRole)(nil)).
		Where("account_id = ?", accountID).
		Exec(ctx); err != nil {
		return err
	}

	if len(roles) == 0 {
		return nil
	}

	links := make([]*AccountRole, 0, len(roles))
	for _, role := range roles {
		if role == nil {
			continue
		}
		links = append(links, &AccountRole{
			AccountID: accountID,
			RoleID:    role.ID,
		})
	}

	if len(links) == 0 {
		return nil
	}

	_, err := tx.NewInsert().Model(&links).Exec(ctx)
	return err
}

func (a *accounts) RedeemResetTokenTx(ctx context.Context, tx bun.IDB, token, passwordHash, nonce string) (*Account, error) {
	res, err := a.Repository.RawTx(ctx, tx, RedeemResetTokenSQL, passwordHash, nonce, token)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound()
	}

	return res[0], nil
}

func (a *accounts) ConfirmVerifyTokenTx(ctx context.Context, tx bun.IDB, token string) (*Account, error) {
	if strings.TrimSpace(token) == "" {
		return nil, repository.NewRecordNotFound()
	}

	res, err := a.Repository.RawTx(ctx, tx, ConfirmEmailChangeSQL, token)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound()
	}

	return res[0], nil
}

func (a *accounts) DeleteAccountTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	if _, err := tx.NewDelete().
		Model((*AccountRole)(nil)).
		Where("account_id = ?", id).
		Exec(ctx); err != nil {
		return err
	}

	record := &Account{ID: id}
	_, err := tx.NewDelete().
		Model(record).
		WherePK().
		Exec(ctx)

	return err
}

type identifierOption struct {
	column string
	raw    bool
	value  string
}
