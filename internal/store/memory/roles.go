package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/ids"
)

func (s *Store) CountGrants(_ context.Context, roleID, module, action string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.roles[roleID]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, pid := range rec.permIDs {
		if p, ok := s.perms[pid]; ok && p.Module == module && p.Action == action {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateRole(_ context.Context, nr auth.NewRole) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.titleTaken(nr.Title, "") {
		return auth.Role{}, fmt.Errorf("%w: role title already exists", auth.ErrInvalidInput)
	}
	if err := s.checkPerms(nr.PermissionIDs); err != nil {
		return auth.Role{}, err
	}
	now := s.stamp()
	rec := &roleRecord{
		role: auth.Role{
			ID:          ids.NewAt(now),
			Title:       nr.Title,
			Description: nr.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		permIDs: append([]string(nil), nr.PermissionIDs...),
	}
	s.roles[rec.role.ID] = rec
	return s.roleView(rec), nil
}

func (s *Store) ListRoles(context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, rec := range s.roles {
		out = append(out, s.roleView(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *Store) GetRole(_ context.Context, id string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return s.roleView(rec), nil
}

func (s *Store) FindRoleByTitle(_ context.Context, title string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.roles {
		if rec.role.Title == title {
			return s.roleView(rec), nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

// UpdateRole applies field changes and the grant replacement under one lock,
// so readers never see a role without its grants.
func (s *Store) UpdateRole(_ context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	if upd.Title != nil && s.titleTaken(*upd.Title, id) {
		return auth.Role{}, fmt.Errorf("%w: role title already exists", auth.ErrInvalidInput)
	}
	if upd.PermissionIDs != nil {
		if err := s.checkPerms(upd.PermissionIDs); err != nil {
			return auth.Role{}, err
		}
	}
	if upd.Title != nil {
		rec.role.Title = *upd.Title
	}
	if upd.Description != nil {
		rec.role.Description = *upd.Description
	}
	if upd.PermissionIDs != nil {
		rec.permIDs = append([]string(nil), upd.PermissionIDs...)
	}
	rec.role.UpdatedAt = s.stamp()
	return s.roleView(rec), nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return auth.ErrNotFound
	}
	for _, u := range s.users {
		if u.RoleID == id {
			return fmt.Errorf("%w: role is referenced by users", auth.ErrConflict)
		}
	}
	delete(s.roles, id)
	return nil
}

func (s *Store) CountUsersWithRole(_ context.Context, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if u.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListPermissions(context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPerms(nil), nil
}

// EnsurePermissions inserts the missing (module, action) pairs and returns the
// stored rows for every requested pair.
func (s *Store) EnsurePermissions(_ context.Context, perms []auth.Permission) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := make(map[string]auth.Permission, len(s.perms))
	for _, p := range s.perms {
		byKey[p.Key()] = p
	}
	want := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if strings.TrimSpace(p.Module) == "" || !auth.ValidAction(p.Action) {
			return nil, fmt.Errorf("%w: invalid permission %s", auth.ErrInvalidInput, p.Key())
		}
		want[p.Key()] = struct{}{}
		if _, ok := byKey[p.Key()]; ok {
			continue
		}
		stored := auth.Permission{ID: ids.New(), Module: p.Module, Action: p.Action, CreatedAt: s.stamp()}
		s.perms[stored.ID] = stored
		byKey[stored.Key()] = stored
	}
	return s.sortedPerms(want), nil
}

func (s *Store) MissingPermissionIDs(_ context.Context, idList []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []string
	for _, id := range idList {
		if _, ok := s.perms[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *Store) titleTaken(title, selfID string) bool {
	for id, rec := range s.roles {
		if rec.role.Title == title && id != selfID {
			return true
		}
	}
	return false
}

func (s *Store) checkPerms(idList []string) error {
	for _, id := range idList {
		if _, ok := s.perms[id]; !ok {
			return fmt.Errorf("%w: permission %s does not exist", auth.ErrInvalidInput, id)
		}
	}
	return nil
}

func (s *Store) roleView(rec *roleRecord) auth.Role {
	role := rec.role
	role.Permissions = make([]auth.Permission, 0, len(rec.permIDs))
	for _, pid := range rec.permIDs {
		if p, ok := s.perms[pid]; ok {
			role.Permissions = append(role.Permissions, p)
		}
	}
	sortPerms(role.Permissions)
	return role
}

func (s *Store) sortedPerms(keys map[string]struct{}) []auth.Permission {
	out := make([]auth.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		if keys != nil {
			if _, ok := keys[p.Key()]; !ok {
				continue
			}
		}
		out = append(out, p)
	}
	sortPerms(out)
	return out
}

func sortPerms(perms []auth.Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Module != perms[j].Module {
			return perms[i].Module < perms[j].Module
		}
		return perms[i].Action < perms[j].Action
	})
}
