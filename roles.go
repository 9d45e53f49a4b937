package identity

import (
	"context"
	"sort"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// RoleCatalog is the read-only view of the role catalog this package
// resolves role references against. The catalog itself (and its refresh
// lifecycle) is owned by an external collaborator.
type RoleCatalog interface {
	// GetByName resolves a role by name; a not-found error means the name is
	// unknown to the catalog.
	GetByName(ctx context.Context, name string) (*Role, error)
	// DefaultRole returns the configured fallback role, or nil when the
	// catalog has none.
	DefaultRole(ctx context.Context) (*Role, error)
	// AdminRoles lists the admin flagged roles.
	AdminRoles(ctx context.Context) ([]*Role, error)
}

// RoleResolver translates role references supplied by clients into resolved
// catalog entities.
type RoleResolver struct {
	catalog RoleCatalog
	logger  Logger
}

// NewRoleResolver creates a resolver against the given catalog.
func NewRoleResolver(catalog RoleCatalog) *RoleResolver {
	return &RoleResolver{
		catalog: catalog,
		logger:  defLogger{},
	}
}

func (r *RoleResolver) WithLogger(l Logger) *RoleResolver {
	if l != nil {
		r.logger = l
	}
	return r
}

// Resolve maps role names to catalog roles. Unknown names are dropped, not
// errors: clients routinely hold stale role lists and must not be able to
// crash a mutation with them. An empty result falls back to the catalog's
// default role when one is configured.
func (r *RoleResolver) Resolve(ctx context.Context, names []string) ([]*Role, error) {
	roles, err := r.resolveNames(ctx, names)
	if err != nil {
		return nil, err
	}

	if len(roles) == 0 {
		return r.defaultSet(ctx)
	}

	return roles, nil
}

// ResolvePatch resolves the role field of a partial patch payload. An
// explicit empty collection clears the role set without the default role
// fallback; a non-empty collection resolves like Resolve.
func (r *RoleResolver) ResolvePatch(ctx context.Context, patch *RolePatch) ([]*Role, error) {
	if patch == nil {
		return nil, nil
	}

	if len(patch.Names) == 0 {
		return []*Role{}, nil
	}

	return r.Resolve(ctx, patch.Names)
}

func (r *RoleResolver) resolveNames(ctx context.Context, names []string) ([]*Role, error) {
	seen := map[string]struct{}{}
	roles := make([]*Role, 0, len(names))

	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		role, err := r.catalog.GetByName(ctx, name)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				r.logger.Debug("dropping unknown role reference: %s", name)
				continue
			}
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve role").
				WithMetadata(map[string]any{"role": name})
		}
		if role != nil {
			roles = append(roles, role)
		}
	}

	return roles, nil
}

func (r *RoleResolver) defaultSet(ctx context.Context) ([]*Role, error) {
	def, err := r.catalog.DefaultRole(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return []*Role{}, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve default role")
	}
	if def == nil {
		return []*Role{}, nil
	}
	return []*Role{def}, nil
}

// RolePatch is the normalized form of the heterogeneous role field a partial
// patch payload may carry.
type RolePatch struct {
	Names []string
}

// ParseRolePatch normalizes the three role representations a patch payload
// may contain: a list of names, a list of name/attribute maps, or a list of
// role objects. The variant is determined by the shape of the first element.
// A nil value yields nil; anything else is a validation error.
func ParseRolePatch(value any) (*RolePatch, error) {
	if value == nil {
		return nil, nil
	}

	switch list := value.(type) {
	case []string:
		return &RolePatch{Names: append([]string(nil), list...)}, nil
	case []*Role:
		names := make([]string, 0, len(list))
		for _, role := range list {
			if role != nil {
				names = append(names, role.Name)
			}
		}
		return &RolePatch{Names: names}, nil
	case []map[string]any:
		return rolePatchFromMaps(list)
	case []any:
		return rolePatchFromAny(list)
	}

	return nil, rolePayloadError(value)
}

func rolePatchFromAny(list []any) (*RolePatch, error) {
	if len(list) == 0 {
		return &RolePatch{}, nil
	}

	switch list[0].(type) {
	case string:
		names := make([]string, 0, len(list))
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, rolePayloadError(item)
			}
			names = append(names, name)
		}
		return &RolePatch{Names: names}, nil
	case map[string]any:
		maps := make([]map[string]any, 0, len(list))
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				return nil, rolePayloadError(item)
			}
			maps = append(maps, entry)
		}
		return rolePatchFromMaps(maps)
	case *Role:
		names := make([]string, 0, len(list))
		for _, item := range list {
			role, ok := item.(*Role)
			if !ok {
				return nil, rolePayloadError(item)
			}
			if role != nil {
				names = append(names, role.Name)
			}
		}
		return &RolePatch{Names: names}, nil
	}

	return nil, rolePayloadError(list[0])
}

func rolePatchFromMaps(list []map[string]any) (*RolePatch, error) {
	names := make([]string, 0, len(list))
	for _, entry := range list {
		name, ok := entry["name"].(string)
		if !ok {
			// maps without a string name are stale client data, skip them
			continue
		}
		names = append(names, name)
	}
	return &RolePatch{Names: names}, nil
}

func rolePayloadError(value any) error {
	return errors.New("roles must be a collection of names, maps, or role objects", errors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithMetadata(map[string]any{"got": value})
}

// AdminRoleSnapshot is a read-only view of which role names are admin
// flagged. It is produced out-of-band (see LoadAdminRoleSnapshot) and passed
// into the guard; request handling never mutates it.
type AdminRoleSnapshot struct {
	names map[string]struct{}
}

// NewAdminRoleSnapshot builds a snapshot from the given roles, keeping only
// the admin flagged ones.
func NewAdminRoleSnapshot(roles ...*Role) AdminRoleSnapshot {
	names := map[string]struct{}{}
	for _, role := range roles {
		if role != nil && role.IsAdmin {
			names[role.Name] = struct{}{}
		}
	}
	return AdminRoleSnapshot{names: names}
}

// Contains reports whether the named role is admin flagged.
func (s AdminRoleSnapshot) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// ContainsAny reports whether any of the given roles is admin flagged.
func (s AdminRoleSnapshot) ContainsAny(roles []*Role) bool {
	for _, role := range roles {
		if role != nil && s.Contains(role.Name) {
			return true
		}
	}
	return false
}

// Names returns the admin flagged role names in stable order.
func (s AdminRoleSnapshot) Names() []string {
	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether the snapshot holds no admin flagged roles.
func (s AdminRoleSnapshot) Empty() bool {
	return len(s.names) == 0
}

// LoadAdminRoleSnapshot builds a snapshot from the catalog's current admin
// roles. When it reloads is the catalog owner's concern.
func LoadAdminRoleSnapshot(ctx context.Context, catalog RoleCatalog) (AdminRoleSnapshot, error) {
	roles, err := catalog.AdminRoles(ctx)
	if err != nil {
		return AdminRoleSnapshot{}, errors.Wrap(err, errors.CategoryInternal, "failed to load admin roles")
	}
	return NewAdminRoleSnapshot(roles...), nil
}
