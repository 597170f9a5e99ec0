package auth

import (
	"context"
	"time"

	"gatehouse.dev/internal/mail"
)

// CredentialUpdate is a partial update of a user's secret material. Nil fields
// are left untouched; a pointer to "" (or the zero time) clears the column.
// All set fields must be applied atomically.
type CredentialUpdate struct {
	PasswordHash     *string
	RefreshTokenHash *string
	ResetCodeHash    *string
	ResetExpiresAt   *time.Time
}

// CredentialStore is the data access the token and reset flows need.
// Lookups return ErrNotFound for unknown users and populate User.Role.
type CredentialStore interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)
	UpdateCredentials(ctx context.Context, id string, upd CredentialUpdate) error
}

// GrantStore answers how many grants join a role to a (module, action) permission.
type GrantStore interface {
	CountGrants(ctx context.Context, roleID, module, action string) (int, error)
}

type NewUser struct {
	FullName     string
	Email        string
	PasswordHash string
	RoleID       string
	IsActive     bool
}

type UserUpdate struct {
	FullName     *string
	Email        *string
	PasswordHash *string
	IsActive     *bool
	RoleID       *string
}

const (
	UserOrderCreatedAt = "createdAt"
	UserOrderFullName  = "fullName"
	UserOrderEmail     = "email"
)

type UserFilter struct {
	Search   string
	IsActive *bool
	RoleID   string
	OrderBy  string
	Desc     bool
	Limit    int
	Offset   int
}

type UserPage struct {
	Items  []User `json:"items"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type NewRole struct {
	Title         string
	Description   string
	PermissionIDs []string
}

// RoleUpdate changes role fields. A nil PermissionIDs keeps the current grants;
// a non-nil slice (even empty) replaces them.
type RoleUpdate struct {
	Title         *string
	Description   *string
	PermissionIDs []string
}

// RBACStore backs user and role administration. Role creation and updates
// that touch grants must run in a single transaction.
type RBACStore interface {
	CreateUser(ctx context.Context, u NewUser) (User, error)
	ListUsers(ctx context.Context, filter UserFilter) (UserPage, error)
	GetUser(ctx context.Context, id string) (User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, id string) error

	CreateRole(ctx context.Context, r NewRole) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	FindRoleByTitle(ctx context.Context, title string) (Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, id string) error
	CountUsersWithRole(ctx context.Context, roleID string) (int, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermissions(ctx context.Context, perms []Permission) ([]Permission, error)
	MissingPermissionIDs(ctx context.Context, ids []string) ([]string, error)
}

// Mailer delivers password reset codes.
type Mailer interface {
	SendPasswordReset(ctx context.Context, msg mail.PasswordResetMessage) error
}
