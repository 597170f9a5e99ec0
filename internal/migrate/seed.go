package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

const (
	SuperAdminTitle       = "SUPERADMIN"
	superAdminDescription = "Full access"
)

// SeedConfig describes the bootstrap administrator.
type SeedConfig struct {
	AdminEmail    string
	AdminName     string
	AdminPassword string
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		AdminEmail:    "admin@example.com",
		AdminName:     "Super Admin",
		AdminPassword: "Admin123!",
	}
}

// SeedStore is the data access the bootstrap seed needs.
type SeedStore interface {
	auth.RBACStore
	FindUserByEmail(ctx context.Context, email string) (auth.User, error)
}

// SeedResult reports what a seed run changed.
type SeedResult struct {
	RoleID         string
	AdminID        string
	RoleCreated    bool
	GrantsAdded    int
	AdminCreated   bool
	AdminRoleFixed bool
}

// Seed makes sure every built-in permission exists, a SUPERADMIN role holds
// all of them, and the administrator account exists with that role. It is
// safe to run repeatedly.
func Seed(ctx context.Context, store SeedStore, hasher auth.Hasher, cfg SeedConfig) (SeedResult, error) {
	var res SeedResult
	def := DefaultSeedConfig()
	if strings.TrimSpace(cfg.AdminEmail) == "" {
		cfg.AdminEmail = def.AdminEmail
	}
	if strings.TrimSpace(cfg.AdminName) == "" {
		cfg.AdminName = def.AdminName
	}
	if cfg.AdminPassword == "" {
		cfg.AdminPassword = def.AdminPassword
	}
	if hasher == nil {
		hasher = auth.NewArgon2Hasher(auth.DefaultArgon2Params())
	}
	log := obs.FromContext(ctx)

	if _, err := store.EnsurePermissions(ctx, auth.BuiltinPermissions()); err != nil {
		return res, fmt.Errorf("ensure permissions: %w", err)
	}
	perms, err := store.ListPermissions(ctx)
	if err != nil {
		return res, fmt.Errorf("list permissions: %w", err)
	}
	allIDs := make([]string, 0, len(perms))
	for _, p := range perms {
		allIDs = append(allIDs, p.ID)
	}

	role, err := store.FindRoleByTitle(ctx, SuperAdminTitle)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		role, err = store.CreateRole(ctx, auth.NewRole{
			Title:         SuperAdminTitle,
			Description:   superAdminDescription,
			PermissionIDs: allIDs,
		})
		if err != nil {
			return res, fmt.Errorf("create %s role: %w", SuperAdminTitle, err)
		}
		res.RoleCreated = true
		res.GrantsAdded = len(allIDs)
	case err != nil:
		return res, fmt.Errorf("find %s role: %w", SuperAdminTitle, err)
	default:
		role, err = store.GetRole(ctx, role.ID)
		if err != nil {
			return res, fmt.Errorf("load %s role: %w", SuperAdminTitle, err)
		}
		held := make(map[string]struct{}, len(role.Permissions))
		for _, p := range role.Permissions {
			held[p.ID] = struct{}{}
		}
		merged := make([]string, 0, len(allIDs))
		for _, p := range role.Permissions {
			merged = append(merged, p.ID)
		}
		for _, id := range allIDs {
			if _, ok := held[id]; !ok {
				merged = append(merged, id)
				res.GrantsAdded++
			}
		}
		if res.GrantsAdded > 0 {
			if _, err := store.UpdateRole(ctx, role.ID, auth.RoleUpdate{PermissionIDs: merged}); err != nil {
				return res, fmt.Errorf("grant %s permissions: %w", SuperAdminTitle, err)
			}
		}
	}
	res.RoleID = role.ID

	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	admin, err := store.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		hash, herr := hasher.Hash(cfg.AdminPassword)
		if herr != nil {
			return res, fmt.Errorf("hash admin password: %w", herr)
		}
		admin, err = store.CreateUser(ctx, auth.NewUser{
			FullName:     strings.TrimSpace(cfg.AdminName),
			Email:        email,
			PasswordHash: hash,
			RoleID:       role.ID,
			IsActive:     true,
		})
		if err != nil {
			return res, fmt.Errorf("create admin user: %w", err)
		}
		res.AdminCreated = true
	case err != nil:
		return res, fmt.Errorf("find admin user: %w", err)
	case admin.RoleID == "":
		roleID := role.ID
		admin, err = store.UpdateUser(ctx, admin.ID, auth.UserUpdate{RoleID: &roleID})
		if err != nil {
			return res, fmt.Errorf("assign admin role: %w", err)
		}
		res.AdminRoleFixed = true
	}
	res.AdminID = admin.ID

	log.Info("seed_complete",
		slog.String("role_id", res.RoleID),
		slog.Bool("role_created", res.RoleCreated),
		slog.Int("grants_added", res.GrantsAdded),
		slog.String("admin_id", res.AdminID),
		slog.Bool("admin_created", res.AdminCreated),
		slog.Bool("admin_role_assigned", res.AdminRoleFixed),
	)
	return res, nil
}
