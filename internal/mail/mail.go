// Package mail delivers transactional messages. Only the password reset
// message exists today. It goes over SMTP when a relay is configured and to
// the structured log otherwise.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gatehouse.dev/internal/obs"
)

// PasswordResetMessage carries everything a reset email template needs.
type PasswordResetMessage struct {
	To            string
	AppName       string
	Code          string
	ExpiryMinutes int
}

// Subject renders the message subject line.
func (m PasswordResetMessage) Subject() string {
	name := strings.TrimSpace(m.AppName)
	if name == "" {
		return "Password reset code"
	}
	return fmt.Sprintf("%s password reset code", name)
}

// Body renders the plain-text body.
func (m PasswordResetMessage) Body() string {
	unit := "minutes"
	if m.ExpiryMinutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Your password reset code is %s. It expires in %d %s.", m.Code, m.ExpiryMinutes, unit)
}

// LogMailer writes messages to the structured logger instead of an SMTP relay.
type LogMailer struct {
	logger *slog.Logger
	// IncludeCode logs the plain code; only meant for local development.
	IncludeCode bool
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, msg PasswordResetMessage) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("mail: recipient is required")
	}
	logger := m.logger
	if logger == nil {
		logger = obs.FromContext(ctx)
	}
	attrs := []any{
		"to", msg.To,
		"subject", msg.Subject(),
		"expiry_minutes", msg.ExpiryMinutes,
	}
	if m.IncludeCode {
		attrs = append(attrs, "code", msg.Code)
	}
	logger.InfoContext(ctx, "password_reset_mail", attrs...)
	return nil
}
