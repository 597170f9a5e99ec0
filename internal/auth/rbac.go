package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// CreateUserInput is an administrator's request to add a user.
type CreateUserInput struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	RoleID   string `json:"role_id"`
	IsActive *bool  `json:"is_active"`
}

// UserPatch is a partial user update. An empty RoleID unassigns the role.
type UserPatch struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
	RoleID   *string `json:"role_id"`
}

// RBACService implements user and role administration on top of RBACStore.
type RBACService struct {
	store  RBACStore
	hasher Hasher
}

func NewRBACService(store RBACStore, hasher Hasher) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if hasher == nil {
		hasher = NewArgon2Hasher(DefaultArgon2Params())
	}
	return &RBACService{store: store, hasher: hasher}, nil
}

func (s *RBACService) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return User{}, fmt.Errorf("%w: full name is required", ErrInvalidInput)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	if len(in.Password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	roleID := strings.TrimSpace(in.RoleID)
	if err := s.requireRole(ctx, roleID); err != nil {
		return User{}, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	return s.store.CreateUser(ctx, NewUser{
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		RoleID:       roleID,
		IsActive:     active,
	})
}

func (s *RBACService) ListUsers(ctx context.Context, filter UserFilter) (UserPage, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.RoleID = strings.TrimSpace(filter.RoleID)
	switch filter.OrderBy {
	case "":
		filter.OrderBy = UserOrderCreatedAt
	case UserOrderCreatedAt, UserOrderFullName, UserOrderEmail:
	default:
		return UserPage{}, fmt.Errorf("%w: unsupported order %q", ErrInvalidInput, filter.OrderBy)
	}
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	return s.store.ListUsers(ctx, filter)
}

func (s *RBACService) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, id)
}

// Me returns the record of the authenticated user.
func (s *RBACService) Me(ctx context.Context, userID string) (User, error) {
	user, err := s.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		return User{}, ErrUnauthorized
	}
	return user, err
}

func (s *RBACService) UpdateUser(ctx context.Context, id string, patch UserPatch) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	var upd UserUpdate
	if patch.FullName != nil {
		name := strings.TrimSpace(*patch.FullName)
		if name == "" {
			return User{}, fmt.Errorf("%w: full name is required", ErrInvalidInput)
		}
		upd.FullName = &name
	}
	if patch.Email != nil {
		email, err := normalizeEmail(*patch.Email)
		if err != nil {
			return User{}, err
		}
		upd.Email = &email
	}
	if patch.Password != nil {
		if len(*patch.Password) < minPasswordLength {
			return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
		}
		hash, err := s.hasher.Hash(*patch.Password)
		if err != nil {
			return User{}, fmt.Errorf("hash password: %w", err)
		}
		upd.PasswordHash = &hash
	}
	if patch.RoleID != nil {
		roleID := strings.TrimSpace(*patch.RoleID)
		if err := s.requireRole(ctx, roleID); err != nil {
			return User{}, err
		}
		upd.RoleID = &roleID
	}
	upd.IsActive = patch.IsActive
	return s.store.UpdateUser(ctx, id, upd)
}

func (s *RBACService) DeleteUser(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.DeleteUser(ctx, id)
}

// CreateRole adds a role with its grants. Titles are unique and every
// permission id must exist.
func (s *RBACService) CreateRole(ctx context.Context, in NewRole) (Role, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return Role{}, fmt.Errorf("%w: role title is required", ErrInvalidInput)
	}
	in.Description = strings.TrimSpace(in.Description)
	if err := s.ensureTitleFree(ctx, in.Title, ""); err != nil {
		return Role{}, err
	}
	ids, err := s.checkPermissionIDs(ctx, in.PermissionIDs)
	if err != nil {
		return Role{}, err
	}
	in.PermissionIDs = ids
	return s.store.CreateRole(ctx, in)
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *RBACService) GetRole(ctx context.Context, id string) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, id)
}

// UpdateRole changes role fields and, when PermissionIDs is non-nil, replaces
// the grant set atomically.
func (s *RBACService) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return Role{}, fmt.Errorf("%w: role title is required", ErrInvalidInput)
		}
		if title != role.Title {
			if err := s.ensureTitleFree(ctx, title, role.ID); err != nil {
				return Role{}, err
			}
		}
		upd.Title = &title
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	if upd.PermissionIDs != nil {
		ids, err := s.checkPermissionIDs(ctx, upd.PermissionIDs)
		if err != nil {
			return Role{}, err
		}
		if ids == nil {
			ids = []string{}
		}
		upd.PermissionIDs = ids
	}
	return s.store.UpdateRole(ctx, role.ID, upd)
}

// DeleteRole removes a role that no user references.
func (s *RBACService) DeleteRole(ctx context.Context, id string) error {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	n, err := s.store.CountUsersWithRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: cannot delete role that has users assigned to it", ErrConflict)
	}
	return s.store.DeleteRole(ctx, role.ID)
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *RBACService) requireRole(ctx context.Context, roleID string) error {
	if roleID == "" {
		return nil
	}
	_, err := s.store.GetRole(ctx, roleID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: role %s does not exist", ErrInvalidInput, roleID)
	}
	return err
}

func (s *RBACService) ensureTitleFree(ctx context.Context, title, selfID string) error {
	existing, err := s.store.FindRoleByTitle(ctx, title)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		return fmt.Errorf("%w: role with title %q already exists", ErrInvalidInput, title)
	}
	return nil
}

func (s *RBACService) checkPermissionIDs(ctx context.Context, ids []string) ([]string, error) {
	ids = dedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	missing, err := s.store.MissingPermissionIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: invalid permission IDs: %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return ids, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
