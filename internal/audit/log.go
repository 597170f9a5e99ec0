package audit

import (
	"context"
	"errors"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

// LogEvent writes a security event to the structured log, enriched with the
// request id and session user. It is the operational channel for denials that
// never reach the activity log.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []any{"type", "audit", "event", event}
	if id, ok := auth.IdentityFromContext(ctx); ok && id.UserID != "" {
		attrs = append(attrs, "user_id", id.UserID)
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	attrs = append(attrs, "fields", copyFields)
	obs.FromContext(ctx).InfoContext(ctx, "audit_event", attrs...)
	return nil
}
