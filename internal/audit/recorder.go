package audit

import (
	"context"
	"strings"
	"time"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

// IdentityResolver is the shared fallback used to attribute an actor.
type IdentityResolver interface {
	Resolve(ctx context.Context, c auth.Caller) (auth.Identity, bool)
}

// Descriptor is the static audit configuration of one operation.
type Descriptor struct {
	Action       Action
	Description  string
	ResourceType string
	LogType      LogType
	// ResourceID extracts the affected resource. When nil, args["id"] is used.
	ResourceID func(result any, args map[string]any) string
}

// Call describes one completed operation.
type Call struct {
	Caller    auth.Caller
	Operation string
	Args      map[string]any
	Result    any
	Request   RequestInfo
}

// Recorder writes activity entries for successful operations. It never fails
// the caller: unattributable calls are skipped and write errors are logged.
type Recorder struct {
	store    Store
	resolver IdentityResolver
	now      func() time.Time
}

func NewRecorder(store Store, resolver IdentityResolver) *Recorder {
	return &Recorder{store: store, resolver: resolver, now: time.Now}
}

// Record attributes c to an actor and appends an entry. The actor is taken
// from the session, then the bearer token, then a user embedded in the
// result, then an explicit userId argument.
func (r *Recorder) Record(ctx context.Context, d Descriptor, c Call) {
	if r == nil || r.store == nil {
		return
	}
	logger := obs.FromContext(ctx)
	actor := r.actor(ctx, c)
	if actor == "" {
		logger.Debug("audit: no actor, entry skipped", "operation", c.Operation)
		return
	}

	resourceID := ""
	if d.ResourceID != nil {
		resourceID = d.ResourceID(c.Result, c.Args)
	} else if v, ok := c.Args["id"].(string); ok {
		resourceID = v
	}
	logType := d.LogType
	if logType == "" {
		logType = LogTypeActivity
	}
	client := ParseUserAgent(c.Request.UserAgent)
	ip := c.Request.IP
	if ip == "" {
		ip = "unknown"
	}

	entry := Entry{
		UserID:       actor,
		Action:       d.Action,
		Description:  d.Description,
		LogType:      logType,
		ResourceType: d.ResourceType,
		ResourceID:   resourceID,
		IPAddress:    ip,
		UserAgent:    c.Request.UserAgent,
		Device:       client.Device,
		Browser:      client.Browser,
		OS:           client.OS,
		Metadata: map[string]any{
			"method":    c.Request.Method,
			"url":       c.Request.URL,
			"operation": c.Operation,
			"variables": Redact(c.Args),
		},
		CreatedAt: r.now().UTC(),
	}
	if _, err := r.store.Append(ctx, entry); err != nil {
		obs.CountAuditFailure()
		logger.Error("audit: append failed",
			"operation", c.Operation,
			"action", string(d.Action),
			"user_id", actor,
			"error", err,
		)
	}
}

func (r *Recorder) actor(ctx context.Context, c Call) string {
	if c.Caller.Session != nil && c.Caller.Session.UserID != "" {
		return c.Caller.Session.UserID
	}
	if c.Caller.Token != "" && r.resolver != nil {
		if id, ok := r.resolver.Resolve(ctx, auth.Caller{Token: c.Caller.Token}); ok {
			return id.UserID
		}
	}
	if id := userFromResult(c.Result); id != "" {
		return id
	}
	for _, key := range []string{"userId", "user_id"} {
		if v, ok := c.Args[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func userFromResult(result any) string {
	switch v := result.(type) {
	case auth.AuthResult:
		return v.User.ID
	case *auth.AuthResult:
		if v != nil {
			return v.User.ID
		}
	case auth.User:
		return v.ID
	case *auth.User:
		if v != nil {
			return v.ID
		}
	}
	return ""
}

var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"newpassword":   {},
	"new_password":  {},
	"refreshtoken":  {},
	"refresh_token": {},
	"accesstoken":   {},
	"access_token":  {},
	"code":          {},
	"smtp_password": {},
}

// Redact copies args replacing secret values with "[REDACTED]". Nested maps are walked.
func Redact(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if _, secret := sensitiveKeys[strings.ToLower(k)]; secret {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}
