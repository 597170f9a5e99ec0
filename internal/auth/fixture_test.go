package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/mail"
	"gatehouse.dev/internal/store/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.PasswordResetMessage
	err  error
}

func (m *captureMailer) SendPasswordReset(_ context.Context, msg mail.PasswordResetMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *captureMailer) last() mail.PasswordResetMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

// countingStore records credential writes so tests can assert that nothing changed.
type countingStore struct {
	*memory.Store
	mu      sync.Mutex
	updates int
}

func (s *countingStore) UpdateCredentials(ctx context.Context, id string, upd auth.CredentialUpdate) error {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return s.Store.UpdateCredentials(ctx, id, upd)
}

func (s *countingStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

type fixture struct {
	store  *countingStore
	svc    *auth.Service
	rbac   *auth.RBACService
	hasher auth.Hasher
	clock  *fakeClock
	mailer *captureMailer
}

const (
	testAccessTTL  = 2 * time.Hour
	testRefreshTTL = 24 * time.Hour
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &countingStore{Store: memory.New()}
	clock := &fakeClock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	hasher := auth.NewArgon2Hasher(auth.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1})
	mailer := &captureMailer{}

	svc, err := auth.NewService(store, store, "test-secret",
		auth.WithClock(clock.Now),
		auth.WithHasher(hasher),
		auth.WithMailer(mailer),
		auth.WithAccessTTL(testAccessTTL),
		auth.WithRefreshTTL(testRefreshTTL),
		auth.WithAppName("Gatehouse Test"),
		auth.WithRandom(func(n int64) (int64, error) { return 23456, nil }),
	)
	require.NoError(t, err)
	rbac, err := auth.NewRBACService(store, hasher)
	require.NoError(t, err)
	return &fixture{store: store, svc: svc, rbac: rbac, hasher: hasher, clock: clock, mailer: mailer}
}

// role creates a role granting the given "module:action" permissions.
func (f *fixture) role(t *testing.T, title string, grants ...string) auth.Role {
	t.Helper()
	ctx := context.Background()
	want := make([]auth.Permission, 0, len(grants))
	for _, g := range grants {
		r := auth.ParseRequirement(g)
		want = append(want, auth.Permission{Module: r.Module, Action: r.Action})
	}
	perms, err := f.store.EnsurePermissions(ctx, want)
	require.NoError(t, err)
	ids := make([]string, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	role, err := f.rbac.CreateRole(ctx, auth.NewRole{Title: title, PermissionIDs: ids})
	require.NoError(t, err)
	return role
}

func (f *fixture) user(t *testing.T, email, password, roleID string) auth.User {
	t.Helper()
	u, err := f.rbac.CreateUser(context.Background(), auth.CreateUserInput{
		FullName: "Test " + email,
		Email:    email,
		Password: password,
		RoleID:   roleID,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) stored(t *testing.T, id string) auth.User {
	t.Helper()
	u, err := f.store.FindUserByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

var errMailDown = errors.New("smtp unavailable")
