// Package audit records who did what through the API and answers queries
// over the resulting activity log.
package audit

import (
	"context"
	"time"
)

type Action string

const (
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionChangePassword Action = "change_password"
	ActionResetPassword  Action = "reset_password"
	ActionRefreshToken   Action = "refresh_token"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionLogin, ActionLogout, ActionCreate, ActionUpdate, ActionDelete,
		ActionChangePassword, ActionResetPassword, ActionRefreshToken:
		return true
	}
	return false
}

type LogType string

const (
	LogTypeActivity LogType = "activity"
	LogTypeAudit    LogType = "audit"
)

func (t LogType) Valid() bool {
	return t == LogTypeActivity || t == LogTypeAudit
}

// Entry is one append-only activity log record.
type Entry struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	UserName     string         `json:"user_name,omitempty"`
	UserEmail    string         `json:"user_email,omitempty"`
	Action       Action         `json:"action"`
	Description  string         `json:"description"`
	LogType      LogType        `json:"log_type"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Device       string         `json:"device,omitempty"`
	Browser      string         `json:"browser,omitempty"`
	OS           string         `json:"os,omitempty"`
	Location     string         `json:"location,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Filter narrows a log listing. Zero values mean "any".
type Filter struct {
	Search  string
	UserID  string
	Action  Action
	LogType LogType
	Start   *time.Time
	End     *time.Time
	Desc    bool
	Limit   int
	Offset  int
}

type Page struct {
	Items  []Entry `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Store persists entries. Append assigns ID and CreatedAt when empty.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	List(ctx context.Context, f Filter) (Page, error)
	Purge(ctx context.Context) (int64, error)
}
