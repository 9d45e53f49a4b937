package identity

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AdminChecker is the persistence surface the guard queries to find out
// whether an administrator other than the given account exists.
type AdminChecker interface {
	ExistsOtherAdminTx(ctx context.Context, tx bun.IDB, adminRoles []string, excludedID uuid.UUID) (bool, error)
}

// AdminInvariantGuard blocks any mutation that would leave the system with
// zero accounts holding an admin flagged role.
//
// The check reads persistent state and decides; callers must invoke it
// inside the same transaction as the write it protects, the storage layer is
// expected to provide at least read-committed isolation there.
type AdminInvariantGuard struct {
	accounts AdminChecker
	snapshot func() AdminRoleSnapshot
	logger   Logger
}

// NewAdminInvariantGuard creates a guard. snapshot supplies the current
// read-only view of admin flagged role names; its refresh cadence belongs to
// the role catalog owner.
func NewAdminInvariantGuard(accounts AdminChecker, snapshot func() AdminRoleSnapshot) *AdminInvariantGuard {
	return &AdminInvariantGuard{
		accounts: accounts,
		snapshot: snapshot,
		logger:   defLogger{},
	}
}

func (g *AdminInvariantGuard) WithLogger(l Logger) *AdminInvariantGuard {
	if l != nil {
		g.logger = l
	}
	return g
}

// CheckRemainingAdmin fails with a not-allowed error when the proposed role
// set removes the account's admin role and no other account holds one. Used
// on full updates with a new role set and on patches carrying a role field.
func (g *AdminInvariantGuard) CheckRemainingAdmin(ctx context.Context, tx bun.IDB, accountID uuid.UUID, proposed []*Role) error {
	admins := g.snapshot()
	if admins.Empty() {
		// no admin flagged roles exist yet, nothing to protect
		return nil
	}

	if admins.ContainsAny(proposed) {
		return nil
	}

	return g.requireOtherAdmin(ctx, tx, admins, accountID)
}

// CheckDeletion fails with a not-allowed error when deleting the account
// would remove the last administrator. held is the account's current role
// set; deleting an account with no admin flagged role is always allowed.
func (g *AdminInvariantGuard) CheckDeletion(ctx context.Context, tx bun.IDB, accountID uuid.UUID, held []*Role) error {
	admins := g.snapshot()
	if admins.Empty() {
		return nil
	}

	if !admins.ContainsAny(held) {
		return nil
	}

	return g.requireOtherAdmin(ctx, tx, admins, accountID)
}

func (g *AdminInvariantGuard) requireOtherAdmin(ctx context.Context, tx bun.IDB, admins AdminRoleSnapshot, accountID uuid.UUID) error {
	exists, err := g.accounts.ExistsOtherAdminTx(ctx, tx, admins.Names(), accountID)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to check remaining administrators")
	}

	if !exists {
		g.logger.Warn("rejected mutation that would remove the last administrator: %s", accountID.String())
		return ErrAdminInvariant
	}

	return nil
}
