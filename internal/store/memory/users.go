package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/ids"
)

func (s *Store) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return s.withRole(s.users[id]), nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return s.withRole(u), nil
}

func (s *Store) UpdateCredentials(_ context.Context, id string, upd auth.CredentialUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.RefreshTokenHash != nil {
		u.RefreshTokenHash = *upd.RefreshTokenHash
	}
	if upd.ResetCodeHash != nil {
		u.ResetCodeHash = *upd.ResetCodeHash
	}
	if upd.ResetExpiresAt != nil {
		if upd.ResetExpiresAt.IsZero() {
			u.ResetExpiresAt = nil
		} else {
			t := *upd.ResetExpiresAt
			u.ResetExpiresAt = &t
		}
	}
	u.UpdatedAt = s.stamp()
	s.users[id] = u
	return nil
}

func (s *Store) CreateUser(_ context.Context, nu auth.NewUser) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(nu.Email)
	if _, taken := s.emails[email]; taken {
		return auth.User{}, fmt.Errorf("%w: email already registered", auth.ErrConflict)
	}
	if nu.RoleID != "" {
		if _, ok := s.roles[nu.RoleID]; !ok {
			return auth.User{}, fmt.Errorf("%w: role %s does not exist", auth.ErrInvalidInput, nu.RoleID)
		}
	}
	now := s.stamp()
	u := auth.User{
		ID:           ids.NewAt(now),
		FullName:     nu.FullName,
		Email:        email,
		PasswordHash: nu.PasswordHash,
		IsActive:     nu.IsActive,
		RoleID:       nu.RoleID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	s.emails[email] = u.ID
	return s.withRole(u), nil
}

func (s *Store) ListUsers(_ context.Context, f auth.UserFilter) (auth.UserPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(f.Search)
	matched := make([]auth.User, 0, len(s.users))
	for _, u := range s.users {
		if search != "" && !strings.Contains(strings.ToLower(u.FullName), search) && !strings.Contains(u.Email, search) {
			continue
		}
		if f.IsActive != nil && u.IsActive != *f.IsActive {
			continue
		}
		if f.RoleID != "" && u.RoleID != f.RoleID {
			continue
		}
		matched = append(matched, u)
	}
	less := func(a, b auth.User) bool {
		switch f.OrderBy {
		case auth.UserOrderFullName:
			return a.FullName < b.FullName
		case auth.UserOrderEmail:
			return a.Email < b.Email
		}
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if f.Desc {
			return less(matched[j], matched[i])
		}
		return less(matched[i], matched[j])
	})

	page := auth.UserPage{Total: len(matched), Limit: f.Limit, Offset: f.Offset, Items: []auth.User{}}
	for _, u := range window(matched, f.Limit, f.Offset) {
		page.Items = append(page.Items, s.withRole(u))
	}
	return page, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return s.FindUserByID(ctx, id)
}

func (s *Store) UpdateUser(_ context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if upd.RoleID != nil && *upd.RoleID != "" {
		if _, ok := s.roles[*upd.RoleID]; !ok {
			return auth.User{}, fmt.Errorf("%w: role %s does not exist", auth.ErrInvalidInput, *upd.RoleID)
		}
	}
	if upd.Email != nil {
		email := strings.ToLower(*upd.Email)
		if owner, taken := s.emails[email]; taken && owner != id {
			return auth.User{}, fmt.Errorf("%w: email already registered", auth.ErrConflict)
		}
		delete(s.emails, u.Email)
		s.emails[email] = id
		u.Email = email
	}
	if upd.RoleID != nil {
		u.RoleID = *upd.RoleID
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	u.UpdatedAt = s.stamp()
	s.users[id] = u
	return s.withRole(u), nil
}

// DeleteUser removes the user and, like the SQL cascade, their activity entries.
func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.users, id)
	delete(s.emails, u.Email)
	kept := s.logs[:0]
	for _, e := range s.logs {
		if e.UserID != id {
			kept = append(kept, e)
		}
	}
	s.logs = kept
	return nil
}

// withRole attaches the role header, without grants, as the SQL join does.
// Callers hold the lock.
func (s *Store) withRole(u auth.User) auth.User {
	u.Role = nil
	if rec, ok := s.roles[u.RoleID]; ok {
		role := rec.role
		u.Role = &role
	}
	if u.ResetExpiresAt != nil {
		t := *u.ResetExpiresAt
		u.ResetExpiresAt = &t
	}
	return u
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
