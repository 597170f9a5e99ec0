package auth

import "time"

// User is the stored identity record. Secret material never serialises.
type User struct {
	ID               string     `json:"id"`
	FullName         string     `json:"full_name"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	IsActive         bool       `json:"is_active"`
	RoleID           string     `json:"role_id,omitempty"`
	Role             *Role      `json:"role,omitempty"`
	RefreshTokenHash string     `json:"-"`
	ResetCodeHash    string     `json:"-"`
	ResetExpiresAt   *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RoleTitle returns the title of the loaded role, if any.
func (u User) RoleTitle() string {
	if u.Role == nil {
		return ""
	}
	return u.Role.Title
}

func (u User) hasPendingReset() bool {
	return u.ResetCodeHash != "" && u.ResetExpiresAt != nil
}

type Role struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Permission is an atomic capability identified by its (module, action) pair.
type Permission struct {
	ID        string    `json:"id"`
	Module    string    `json:"module"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

func (p Permission) Key() string {
	return p.Module + ":" + p.Action
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthResult bundles the authenticated user with freshly issued tokens.
type AuthResult struct {
	User   User      `json:"user"`
	Tokens TokenPair `json:"tokens"`
}
