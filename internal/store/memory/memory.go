// Package memory is a mutex-guarded in-process store used in development mode
// and in tests. It enforces the same uniqueness and reference rules as the
// PostgreSQL schema.
package memory

import (
	"context"
	"sync"
	"time"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/settings"
)

var (
	_ auth.CredentialStore = (*Store)(nil)
	_ auth.GrantStore      = (*Store)(nil)
	_ auth.RBACStore       = (*Store)(nil)
	_ audit.Store          = (*Store)(nil)
	_ settings.Store       = (*Store)(nil)
)

type roleRecord struct {
	role    auth.Role
	permIDs []string
}

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	users  map[string]auth.User
	emails map[string]string
	roles  map[string]*roleRecord
	perms  map[string]auth.Permission
	logs   []audit.Entry
	kv     map[string]string
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		now:    time.Now,
		users:  make(map[string]auth.User),
		emails: make(map[string]string),
		roles:  make(map[string]*roleRecord),
		perms:  make(map[string]auth.Permission),
		kv:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds; it mirrors the PostgreSQL store's readiness check.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}
