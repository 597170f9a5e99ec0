package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/store/memory"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

// Now advances one second per call so every write gets a distinct timestamp.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newStore() *memory.Store {
	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return memory.New(memory.WithClock(clock.Now))
}

func mustPerms(t *testing.T, s *memory.Store, keys ...string) []auth.Permission {
	t.Helper()
	var want []auth.Permission
	for _, r := range auth.Requirements(keys...) {
		want = append(want, auth.Permission{Module: r.Module, Action: r.Action})
	}
	perms, err := s.EnsurePermissions(context.Background(), want)
	require.NoError(t, err)
	return perms
}

func mustUser(t *testing.T, s *memory.Store, name, email, roleID string) auth.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), auth.NewUser{
		FullName: name, Email: email, PasswordHash: "hash", RoleID: roleID, IsActive: true,
	})
	require.NoError(t, err)
	return u
}

func TestUsersEnforceUniqueEmailAndRoleReference(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	u := mustUser(t, s, "Alice", "Alice@Example.com", "")
	assert.Equal(t, "alice@example.com", u.Email)

	_, err := s.CreateUser(ctx, auth.NewUser{FullName: "Dup", Email: "alice@example.com"})
	assert.ErrorIs(t, err, auth.ErrConflict)

	_, err = s.CreateUser(ctx, auth.NewUser{FullName: "Ghost", Email: "ghost@example.com", RoleID: "missing"})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)

	bob := mustUser(t, s, "Bob", "bob@example.com", "")
	taken := "alice@example.com"
	_, err = s.UpdateUser(ctx, bob.ID, auth.UserUpdate{Email: &taken})
	assert.ErrorIs(t, err, auth.ErrConflict)

	badRole := "missing"
	renamed := "bobby@example.com"
	_, err = s.UpdateUser(ctx, bob.ID, auth.UserUpdate{Email: &renamed, RoleID: &badRole})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = s.FindUserByEmail(ctx, "bobby@example.com")
	assert.ErrorIs(t, err, auth.ErrNotFound, "failed update must not move the email")
}

func TestUpdateCredentialsSetsAndClears(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	u := mustUser(t, s, "Alice", "alice@example.com", "")

	code, refresh := "code-hash", "refresh-hash"
	exp := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateCredentials(ctx, u.ID, auth.CredentialUpdate{
		RefreshTokenHash: &refresh, ResetCodeHash: &code, ResetExpiresAt: &exp,
	}))
	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "refresh-hash", got.RefreshTokenHash)
	require.NotNil(t, got.ResetExpiresAt)
	assert.True(t, got.ResetExpiresAt.Equal(exp))

	empty, zero := "", time.Time{}
	require.NoError(t, s.UpdateCredentials(ctx, u.ID, auth.CredentialUpdate{
		RefreshTokenHash: &empty, ResetCodeHash: &empty, ResetExpiresAt: &zero,
	}))
	got, err = s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, got.RefreshTokenHash)
	assert.Empty(t, got.ResetCodeHash)
	assert.Nil(t, got.ResetExpiresAt)

	assert.ErrorIs(t, s.UpdateCredentials(ctx, "missing", auth.CredentialUpdate{}), auth.ErrNotFound)
}

func TestRolesGrantsAndDeletion(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	byKey := map[string]string{}
	for _, p := range mustPerms(t, s, "Users:READ", "Users:DELETE") {
		byKey[p.Key()] = p.ID
	}
	readID, deleteID := byKey["Users:READ"], byKey["Users:DELETE"]
	require.NotEmpty(t, readID)
	require.NotEmpty(t, deleteID)

	again := mustPerms(t, s, "Users:READ")
	require.Len(t, again, 1)
	assert.Equal(t, readID, again[0].ID, "ensure is idempotent")

	role, err := s.CreateRole(ctx, auth.NewRole{Title: "EDITOR", PermissionIDs: []string{readID}})
	require.NoError(t, err)
	_, err = s.CreateRole(ctx, auth.NewRole{Title: "EDITOR"})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = s.CreateRole(ctx, auth.NewRole{Title: "X", PermissionIDs: []string{"missing"}})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)

	n, err := s.CountGrants(ctx, role.ID, "Users", "READ")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	updated, err := s.UpdateRole(ctx, role.ID, auth.RoleUpdate{PermissionIDs: []string{deleteID}})
	require.NoError(t, err)
	require.Len(t, updated.Permissions, 1)
	assert.Equal(t, auth.ActionDelete, updated.Permissions[0].Action)

	n, err = s.CountGrants(ctx, role.ID, "Users", "READ")
	require.NoError(t, err)
	assert.Zero(t, n)

	missing, err := s.MissingPermissionIDs(ctx, []string{deleteID, "nope"})
	require.NoError(t, err)
	assert.Equal(t, []string{"nope"}, missing)

	u := mustUser(t, s, "Alice", "alice@example.com", role.ID)
	assert.ErrorIs(t, s.DeleteRole(ctx, role.ID), auth.ErrConflict)
	count, err := s.CountUsersWithRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	require.NoError(t, s.DeleteRole(ctx, role.ID))
	assert.ErrorIs(t, s.DeleteRole(ctx, role.ID), auth.ErrNotFound)
}

func TestUserListingFiltersSortsAndPages(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	mustUser(t, s, "Charlie", "charlie@example.com", "")
	mustUser(t, s, "Alice", "alice@example.com", "")
	bob := mustUser(t, s, "Bob", "bob@example.com", "")
	inactive := false
	_, err := s.UpdateUser(ctx, bob.ID, auth.UserUpdate{IsActive: &inactive})
	require.NoError(t, err)

	page, err := s.ListUsers(ctx, auth.UserFilter{OrderBy: auth.UserOrderFullName, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Alice", page.Items[0].FullName)
	assert.Equal(t, "Bob", page.Items[1].FullName)

	page, err = s.ListUsers(ctx, auth.UserFilter{Desc: true, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "Bob", page.Items[0].FullName, "newest first")

	active := true
	page, err = s.ListUsers(ctx, auth.UserFilter{IsActive: &active, Search: "LI", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestActivityLogAppendListPurge(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	alice := mustUser(t, s, "Alice", "alice@example.com", "")
	bob := mustUser(t, s, "Bob", "bob@example.com", "")

	_, err := s.Append(ctx, audit.Entry{UserID: "ghost", Action: audit.ActionLogin})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)

	for _, e := range []audit.Entry{
		{UserID: alice.ID, Action: audit.ActionLogin, Description: "User logged in"},
		{UserID: alice.ID, Action: audit.ActionCreate, Description: "Role created", ResourceType: "role", LogType: audit.LogTypeAudit},
		{UserID: bob.ID, Action: audit.ActionLogin, Description: "User logged in"},
	} {
		stored, err := s.Append(ctx, e)
		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.False(t, stored.CreatedAt.IsZero())
	}

	page, err := s.List(ctx, audit.Filter{Action: audit.ActionLogin, Desc: true, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, "bob@example.com", page.Items[0].UserEmail)

	page, err = s.List(ctx, audit.Filter{Search: "role", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, audit.LogTypeAudit, page.Items[0].LogType)

	page, err = s.List(ctx, audit.Filter{LogType: audit.LogTypeActivity, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	require.NoError(t, s.DeleteUser(ctx, alice.ID))
	page, err = s.List(ctx, audit.Filter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total, "deleting a user removes their entries")

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
