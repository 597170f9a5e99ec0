package auth

import (
	"context"

	"gatehouse.dev/internal/obs"
)

// Identity is the session view of an authenticated caller. Any field may be
// missing when the session was built from an older or partial token.
type Identity struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
	RoleTitle string `json:"role,omitempty"`

	// stored marks an identity read from the user record; its role, even
	// when empty, is authoritative.
	stored bool
}

func (i Identity) complete() bool {
	return i.UserID != "" && (i.stored || i.RoleID != "")
}

// IdentityFromUser builds the session identity from the persisted user record.
func IdentityFromUser(u User) Identity {
	return Identity{UserID: u.ID, Email: u.Email, RoleID: u.RoleID, RoleTitle: u.RoleTitle(), stored: true}
}

// IdentityFromClaims builds the session identity carried by a verified token.
func IdentityFromClaims(c *Claims) Identity {
	if c == nil {
		return Identity{}
	}
	return Identity{UserID: c.Subject, Email: c.Email, RoleID: c.RoleID, RoleTitle: c.RoleTitle}
}

// Caller is what the request boundary knows: a session identity, the raw
// bearer token, or both.
type Caller struct {
	Session *Identity
	Token   string
}

// IdentityResolver derives the effective identity of a caller. It is shared by
// the permission gate and the activity recorder.
type IdentityResolver struct {
	tokens *TokenService
	users  CredentialStore
}

// Resolve fills the gaps of the session identity: first from the verified
// bearer token, then from the persisted user record. Verification and lookup
// failures leave the identity partial; ok is false only when no user id
// could be determined.
func (r *IdentityResolver) Resolve(ctx context.Context, c Caller) (Identity, bool) {
	var id Identity
	if c.Session != nil {
		id = *c.Session
	}
	if !id.complete() && c.Token != "" {
		claims, err := r.tokens.ValidateAccessToken(c.Token)
		switch {
		case err != nil:
			obs.FromContext(ctx).Debug("identity: bearer token rejected", "error", err)
		case id.UserID == "" || id.UserID == claims.Subject:
			if id.UserID == "" {
				id.UserID = claims.Subject
				id.Email = claims.Email
			}
			if id.RoleID == "" {
				id.RoleID = claims.RoleID
				id.RoleTitle = claims.RoleTitle
			}
		}
	}
	if id.UserID != "" && !id.complete() {
		user, err := r.users.FindUserByID(ctx, id.UserID)
		if err != nil {
			obs.FromContext(ctx).Debug("identity: user lookup failed", "user_id", id.UserID, "error", err)
		} else {
			id.RoleID = user.RoleID
			id.RoleTitle = user.RoleTitle()
			if id.Email == "" {
				id.Email = user.Email
			}
		}
	}
	return id, id.UserID != ""
}
