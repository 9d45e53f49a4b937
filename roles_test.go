package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-identity"
)

func TestRoleResolverResolve(t *testing.T) {
	ctx := context.Background()

	adminRole := &identity.Role{Name: "ADMIN", IsAdmin: true}
	userRole := &identity.Role{Name: "USER", IsDefaultRole: true}

	t.Run("resolves known names", func(t *testing.T) {
		catalog := &MockRoleCatalog{}
		catalog.On("GetByName", ctx, "ADMIN").Return(adminRole, nil)
		catalog.On("GetByName", ctx, "USER").Return(userRole, nil)

		resolver := identity.NewRoleResolver(catalog)

		roles, err := resolver.Resolve(ctx, []string{"ADMIN", "USER"})
		require.NoError(t, err)
		assert.Equal(t, []*identity.Role{adminRole, userRole}, roles)
	})

	t.Run("drops unknown names silently", func(t *testing.T) {
		catalog := &MockRoleCatalog{}
		catalog.On("GetByName", ctx, "ADMIN").Return(adminRole, nil)
		catalog.On("GetByName", ctx, "GHOST").Return(nil, notFoundErr())

		resolver := identity.NewRoleResolver(catalog)

		roles, err := resolver.Resolve(ctx, []string{"ADMIN", "GHOST"})
		require.NoError(t, err)
		assert.Equal(t, []*identity.Role{adminRole}, roles)
	})

	t.Run("deduplicates names", func(t *testing.T) {
		catalog := &MockRoleCatalog{}
		catalog.On("GetByName", ctx, "ADMIN").Return(adminRole, nil).Once()

		resolver := identity.NewRoleResolver(catalog)

		roles, err := resolver.Resolve(ctx, []string{"ADMIN", "ADMIN", "ADMIN"})
		require.NoError(t, err)
		assert.Len(t, roles, 1)
		catalog.AssertExpectations(t)
	})

	t.Run("empty resolution falls back to the default role", func(t *testing.T) {
		catalog := &MockRoleCatalog{}
		catalog.On("GetByName", ctx, "GHOST").Return(nil, notFoundErr())
		catalog.On("DefaultRole", ctx).Return(userRole, nil)

		resolver := identity.NewRoleResolver(catalog)

		roles, err := resolver.Resolve(ctx, []string{"GHOST"})
		require.NoError(t, err)
		assert.Equal(t, []*identity.Role{userRole}, roles)
	})

	t.Run("no default role configured yields an empty set", func(t *testing.T) {
		catalog := &MockRoleCatalog{}
		catalog.On("DefaultRole", ctx).Return(nil, nil)

		resolver := identity.NewRoleResolver(catalog)

		roles, err := resolver.Resolve(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, roles)
	})
}

func TestRoleResolverResolvePatch(t *testing.T) {
	ctx := context.Background()
	userRole := &identity.Role{Name: "USER", IsDefaultRole: true}

	t.Run("nil patch resolves to nil", func(t *testing.T) {
		resolver := identity.NewRoleResolver(&MockRoleCatalog{})

		roles, err := resolver.ResolvePatch(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, roles)
	})

	t.Run("explicit empty collection clears without fallback", func(t *testing.T) {
		catalog := &MockRoleCatalog{}
		resolver := identity.NewRoleResolver(catalog)

		roles, err := resolver.ResolvePatch(ctx, &identity.RolePatch{Names: []string{}})
		require.NoError(t, err)
		assert.NotNil(t, roles)
		assert.Empty(t, roles)
		catalog.AssertNotCalled(t, "DefaultRole")
	})

	t.Run("non-empty collection resolves with fallback", func(t *testing.T) {
		catalog := &MockRoleCatalog{}
		catalog.On("GetByName", ctx, "GHOST").Return(nil, notFoundErr())
		catalog.On("DefaultRole", ctx).Return(userRole, nil)

		resolver := identity.NewRoleResolver(catalog)

		roles, err := resolver.ResolvePatch(ctx, &identity.RolePatch{Names: []string{"GHOST"}})
		require.NoError(t, err)
		assert.Equal(t, []*identity.Role{userRole}, roles)
	})
}

func TestParseRolePatch(t *testing.T) {
	t.Run("nil value", func(t *testing.T) {
		patch, err := identity.ParseRolePatch(nil)
		require.NoError(t, err)
		assert.Nil(t, patch)
	})

	t.Run("list of names", func(t *testing.T) {
		patch, err := identity.ParseRolePatch([]string{"ADMIN", "USER"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ADMIN", "USER"}, patch.Names)
	})

	t.Run("list of role objects", func(t *testing.T) {
		patch, err := identity.ParseRolePatch([]*identity.Role{
			{Name: "ADMIN"},
			nil,
			{Name: "USER"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ADMIN", "USER"}, patch.Names)
	})

	t.Run("list of maps keyed by name", func(t *testing.T) {
		patch, err := identity.ParseRolePatch([]map[string]any{
			{"name": "ADMIN", "description": "whatever"},
			{"description": "no name entry"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ADMIN"}, patch.Names)
	})

	t.Run("decoded JSON list dispatches on the first element", func(t *testing.T) {
		patch, err := identity.ParseRolePatch([]any{"ADMIN", "USER"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ADMIN", "USER"}, patch.Names)

		patch, err = identity.ParseRolePatch([]any{
			map[string]any{"name": "ADMIN"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ADMIN"}, patch.Names)
	})

	t.Run("empty decoded list", func(t *testing.T) {
		patch, err := identity.ParseRolePatch([]any{})
		require.NoError(t, err)
		assert.Empty(t, patch.Names)
	})

	t.Run("unsupported shape is a validation error", func(t *testing.T) {
		_, err := identity.ParseRolePatch("ADMIN")
		assert.True(t, identity.IsValidation(err))

		_, err = identity.ParseRolePatch([]any{42})
		assert.True(t, identity.IsValidation(err))
	})
}

func TestAdminRoleSnapshot(t *testing.T) {
	snapshot := identity.NewAdminRoleSnapshot(
		&identity.Role{Name: "ADMIN", IsAdmin: true},
		&identity.Role{Name: "SUPPORT", IsAdmin: true},
		&identity.Role{Name: "USER"},
		nil,
	)

	assert.True(t, snapshot.Contains("ADMIN"))
	assert.True(t, snapshot.Contains("SUPPORT"))
	assert.False(t, snapshot.Contains("USER"))
	assert.False(t, snapshot.Empty())
	assert.Equal(t, []string{"ADMIN", "SUPPORT"}, snapshot.Names())

	assert.True(t, snapshot.ContainsAny([]*identity.Role{
		{Name: "USER"},
		{Name: "ADMIN"},
	}))
	assert.False(t, snapshot.ContainsAny([]*identity.Role{
		{Name: "USER"},
	}))

	assert.True(t, identity.NewAdminRoleSnapshot().Empty())
}

func TestLoadAdminRoleSnapshot(t *testing.T) {
	ctx := context.Background()

	catalog := &MockRoleCatalog{}
	catalog.On("AdminRoles", ctx).Return([]*identity.Role{
		{Name: "ADMIN", IsAdmin: true},
	}, nil)

	snapshot, err := identity.LoadAdminRoleSnapshot(ctx, catalog)
	require.NoError(t, err)
	assert.True(t, snapshot.Contains("ADMIN"))
}
