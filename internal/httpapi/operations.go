package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
)

// operation is one entry of the route table assembled at startup. Requirements
// and the audit descriptor are declared here rather than discovered per call.
type operation struct {
	name         string
	method       string
	pattern      string
	public       bool
	rateLimited  bool
	requirements []auth.Requirement
	audit        *audit.Descriptor
	status       int
	handle       func(ctx context.Context, req *request) (any, error)
}

// request carries the decoded arguments of one call.
type request struct {
	http   *http.Request
	args   map[string]any
	body   []byte
	caller auth.Caller
}

func (q *request) param(name string) string {
	return strings.TrimSpace(chi.URLParam(q.http, name))
}

func (q *request) query(name string) string {
	return strings.TrimSpace(q.http.URL.Query().Get(name))
}

// userID is the authenticated caller. The pipeline guarantees a session on
// non-public operations.
func (q *request) userID() string {
	if q.caller.Session == nil {
		return ""
	}
	return q.caller.Session.UserID
}

// bind decodes the JSON body into dst, rejecting unknown fields and trailing data.
func (q *request) bind(dst any) error {
	if len(bytes.TrimSpace(q.body)) == 0 {
		return fmt.Errorf("%w: request body is required", auth.ErrInvalidInput)
	}
	dec := json.NewDecoder(bytes.NewReader(q.body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", auth.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", auth.ErrInvalidInput)
	}
	return nil
}

func readRequest(r *http.Request) (*request, int, error) {
	req := &request{http: r, args: map[string]any{}}
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
			}
			return nil, http.StatusBadRequest, errors.New("unable to read request body")
		}
		req.body = body
	}
	if len(bytes.TrimSpace(req.body)) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(req.body, &fields); err != nil {
			return nil, http.StatusBadRequest, errors.New("request body must be a JSON object")
		}
		for k, v := range fields {
			req.args[k] = v
		}
	}
	for k, vals := range r.URL.Query() {
		if len(vals) > 0 {
			req.args[k] = vals[0]
		}
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" || i >= len(rctx.URLParams.Values) {
				continue
			}
			req.args[key] = rctx.URLParams.Values[i]
		}
	}
	return req, 0, nil
}

// serve runs the per-call pipeline: decode, authenticate, authorize, handle,
// then record the activity entry.
func (a *API) serve(op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req, code, err := readRequest(r)
		if err != nil {
			writeError(w, r, code, err.Error())
			return
		}
		req.caller = auth.CallerFromContext(ctx)

		if !op.public && req.caller.Session == nil {
			fail(w, r, auth.ErrUnauthorized)
			return
		}
		if err := a.auth.Authorize(ctx, req.caller, op.requirements...); err != nil {
			if errors.Is(err, auth.ErrForbidden) {
				_ = audit.LogEvent(ctx, "authz.denied", map[string]any{
					"operation":    op.name,
					"requirements": requirementStrings(op.requirements),
					"reason":       err.Error(),
				})
			}
			fail(w, r, err)
			return
		}

		result, err := op.handle(ctx, req)
		if err != nil {
			fail(w, r, err)
			return
		}
		if op.audit != nil {
			a.recorder.Record(ctx, *op.audit, audit.Call{
				Caller:    req.caller,
				Operation: op.name,
				Args:      req.args,
				Result:    result,
				Request:   audit.RequestInfoFrom(r),
			})
		}

		status := op.status
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, result)
	}
}

func requirementStrings(reqs []auth.Requirement) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.String())
	}
	return out
}

// resultID reports the id of a created resource for the activity log.
func resultID(result any, args map[string]any) string {
	switch v := result.(type) {
	case auth.User:
		return v.ID
	case auth.Role:
		return v.ID
	}
	if id, ok := args["id"].(string); ok {
		return id
	}
	return ""
}

func (a *API) operations() []operation {
	return []operation{
		// Authentication.
		{
			name: "login", method: http.MethodPost, pattern: "/v1/auth/login",
			public: true, rateLimited: true,
			audit:  &audit.Descriptor{Action: audit.ActionLogin, Description: "User logged in", ResourceType: "auth"},
			handle: a.login,
		},
		{
			name: "refreshTokens", method: http.MethodPost, pattern: "/v1/auth/refresh",
			public: true, rateLimited: true,
			audit:  &audit.Descriptor{Action: audit.ActionRefreshToken, Description: "Tokens refreshed", ResourceType: "auth"},
			handle: a.refresh,
		},
		{
			name: "logout", method: http.MethodPost, pattern: "/v1/auth/logout",
			audit:  &audit.Descriptor{Action: audit.ActionLogout, Description: "User logged out", ResourceType: "auth"},
			handle: a.logout,
		},
		{name: "me", method: http.MethodGet, pattern: "/v1/auth/me", handle: a.me},
		{
			name: "requestPasswordReset", method: http.MethodPost, pattern: "/v1/auth/password/forgot",
			public: true, rateLimited: true,
			handle: a.requestPasswordReset,
		},
		{
			name: "verifyPasswordResetCode", method: http.MethodPost, pattern: "/v1/auth/password/verify",
			public: true, rateLimited: true,
			handle: a.verifyPasswordResetCode,
		},
		{
			name: "resetPassword", method: http.MethodPost, pattern: "/v1/auth/password/reset",
			public: true, rateLimited: true,
			handle: a.resetPassword,
		},

		// Users.
		{
			name: "users", method: http.MethodGet, pattern: "/v1/users",
			requirements: auth.Requirements("Users:READ"),
			handle:       a.listUsers,
		},
		{
			name: "createUser", method: http.MethodPost, pattern: "/v1/users",
			requirements: auth.Requirements("Users:CREATE"),
			audit:        &audit.Descriptor{Action: audit.ActionCreate, Description: "User created", ResourceType: "user", ResourceID: resultID},
			status:       http.StatusCreated,
			handle:       a.createUser,
		},
		{
			name: "user", method: http.MethodGet, pattern: "/v1/users/{id}",
			requirements: auth.Requirements("Users:READ"),
			handle:       a.getUser,
		},
		{
			name: "updateUser", method: http.MethodPatch, pattern: "/v1/users/{id}",
			requirements: auth.Requirements("Users:UPDATE"),
			audit:        &audit.Descriptor{Action: audit.ActionUpdate, Description: "User updated", ResourceType: "user"},
			handle:       a.updateUser,
		},
		{
			name: "deleteUser", method: http.MethodDelete, pattern: "/v1/users/{id}",
			requirements: auth.Requirements("Users:DELETE"),
			audit:        &audit.Descriptor{Action: audit.ActionDelete, Description: "User deleted", ResourceType: "user", LogType: audit.LogTypeAudit},
			handle:       a.deleteUser,
		},

		// Roles and permissions.
		{
			name: "roles", method: http.MethodGet, pattern: "/v1/roles",
			requirements: auth.Requirements("Roles:READ"),
			handle:       a.listRoles,
		},
		{
			name: "createRole", method: http.MethodPost, pattern: "/v1/roles",
			requirements: auth.Requirements("Roles:CREATE"),
			audit:        &audit.Descriptor{Action: audit.ActionCreate, Description: "Role created", ResourceType: "role", ResourceID: resultID},
			status:       http.StatusCreated,
			handle:       a.createRole,
		},
		{
			name: "role", method: http.MethodGet, pattern: "/v1/roles/{id}",
			requirements: auth.Requirements("Roles:READ"),
			handle:       a.getRole,
		},
		{
			name: "updateRole", method: http.MethodPatch, pattern: "/v1/roles/{id}",
			requirements: auth.Requirements("Roles:UPDATE"),
			audit:        &audit.Descriptor{Action: audit.ActionUpdate, Description: "Role updated", ResourceType: "role", LogType: audit.LogTypeAudit},
			handle:       a.updateRole,
		},
		{
			name: "deleteRole", method: http.MethodDelete, pattern: "/v1/roles/{id}",
			requirements: auth.Requirements("Roles:DELETE"),
			audit:        &audit.Descriptor{Action: audit.ActionDelete, Description: "Role deleted", ResourceType: "role", LogType: audit.LogTypeAudit},
			handle:       a.deleteRole,
		},
		{
			name: "permissions", method: http.MethodGet, pattern: "/v1/permissions",
			requirements: auth.Requirements("Roles:READ"),
			handle:       a.listPermissions,
		},

		// Activity log.
		{
			name: "activityLogs", method: http.MethodGet, pattern: "/v1/activity-logs",
			requirements: auth.Requirements("Activity Logs:READ"),
			handle:       a.listActivityLogs,
		},
		{
			name: "clearActivityLogs", method: http.MethodDelete, pattern: "/v1/activity-logs",
			requirements: auth.Requirements("Activity Logs:DELETE"),
			audit:        &audit.Descriptor{Action: audit.ActionDelete, Description: "Activity logs cleared", ResourceType: "activity_log", LogType: audit.LogTypeAudit},
			handle:       a.purgeActivityLogs,
		},

		// Settings.
		{
			name: "smtpSettings", method: http.MethodGet, pattern: "/v1/settings/smtp",
			requirements: auth.Requirements("Settings:READ"),
			handle:       a.getSMTPSettings,
		},
		{
			name: "saveSMTPSettings", method: http.MethodPut, pattern: "/v1/settings/smtp",
			requirements: auth.Requirements("Settings:UPDATE"),
			audit:        &audit.Descriptor{Action: audit.ActionUpdate, Description: "SMTP settings updated", ResourceType: "setting", LogType: audit.LogTypeAudit},
			handle:       a.saveSMTPSettings,
		},
	}
}
