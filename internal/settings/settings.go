// Package settings keeps runtime-editable configuration as key/value rows.
// SMTP delivery is the only group today.
package settings

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"gatehouse.dev/internal/auth"
	gmail "gatehouse.dev/internal/mail"
)

// Store persists settings. SaveSettings upserts every pair atomically.
type Store interface {
	LoadSettings(ctx context.Context, keys []string) (map[string]string, error)
	SaveSettings(ctx context.Context, values map[string]string) error
}

const (
	KeySMTPHost      = "smtpHost"
	KeySMTPPort      = "smtpPort"
	KeySMTPSecure    = "smtpSecure"
	KeySMTPUsername  = "smtpUsername"
	KeySMTPPassword  = "smtpPassword"
	KeySMTPFromEmail = "smtpFromEmail"
	KeySMTPFromName  = "smtpFromName"
	KeySMTPEnabled   = "smtpEnabled"
)

var smtpKeys = []string{
	KeySMTPHost, KeySMTPPort, KeySMTPSecure, KeySMTPUsername,
	KeySMTPPassword, KeySMTPFromEmail, KeySMTPFromName, KeySMTPEnabled,
}

const maxFieldLength = 255

// SMTP is the administrator's view of the mail relay. The password is never
// returned; PasswordSet tells whether one is stored.
type SMTP struct {
	Host        string `json:"smtp_host"`
	Port        int    `json:"smtp_port"`
	Secure      bool   `json:"smtp_secure"`
	Username    string `json:"smtp_username,omitempty"`
	PasswordSet bool   `json:"smtp_password_set"`
	FromEmail   string `json:"smtp_from_email"`
	FromName    string `json:"smtp_from_name"`
	Enabled     bool   `json:"smtp_enabled"`
}

// SMTPInput replaces the SMTP settings. A nil Password keeps the stored one.
type SMTPInput struct {
	Host      string  `json:"smtp_host"`
	Port      int     `json:"smtp_port"`
	Secure    bool    `json:"smtp_secure"`
	Username  string  `json:"smtp_username"`
	Password  *string `json:"smtp_password"`
	FromEmail string  `json:"smtp_from_email"`
	FromName  string  `json:"smtp_from_name"`
	Enabled   bool    `json:"smtp_enabled"`
}

type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("settings store is required")
	}
	return &Service{store: store}, nil
}

// SMTP returns the stored relay settings with the password masked. Missing
// keys read as zero values.
func (s *Service) SMTP(ctx context.Context) (SMTP, error) {
	cfg, err := s.SMTPConfig(ctx)
	if err != nil {
		return SMTP{}, err
	}
	return SMTP{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Secure:      cfg.Secure,
		Username:    cfg.Username,
		PasswordSet: cfg.Password != "",
		FromEmail:   cfg.FromEmail,
		FromName:    cfg.FromName,
		Enabled:     cfg.Enabled,
	}, nil
}

// SaveSMTP validates and upserts the relay settings, then reads them back.
func (s *Service) SaveSMTP(ctx context.Context, in SMTPInput) (SMTP, error) {
	in.Host = strings.TrimSpace(in.Host)
	in.Username = strings.TrimSpace(in.Username)
	in.FromEmail = strings.TrimSpace(in.FromEmail)
	in.FromName = strings.TrimSpace(in.FromName)

	var problems []string
	if in.Host == "" {
		problems = append(problems, "smtp host is required")
	}
	if in.Port < 1 || in.Port > 65535 {
		problems = append(problems, "smtp port must be between 1 and 65535")
	}
	if _, err := mail.ParseAddress(in.FromEmail); err != nil || in.FromEmail == "" {
		problems = append(problems, "smtp from email must be a valid email address")
	}
	if in.FromName == "" {
		problems = append(problems, "smtp from name is required")
	}
	for name, v := range map[string]string{
		"host": in.Host, "username": in.Username, "from email": in.FromEmail, "from name": in.FromName,
	} {
		if len(v) > maxFieldLength {
			problems = append(problems, fmt.Sprintf("smtp %s must not exceed %d characters", name, maxFieldLength))
		}
	}
	if in.Password != nil && len(*in.Password) > maxFieldLength {
		problems = append(problems, fmt.Sprintf("smtp password must not exceed %d characters", maxFieldLength))
	}
	if len(problems) > 0 {
		return SMTP{}, fmt.Errorf("%w: %s", auth.ErrInvalidInput, strings.Join(problems, "; "))
	}

	values := map[string]string{
		KeySMTPHost:      in.Host,
		KeySMTPPort:      strconv.Itoa(in.Port),
		KeySMTPSecure:    strconv.FormatBool(in.Secure),
		KeySMTPUsername:  in.Username,
		KeySMTPFromEmail: in.FromEmail,
		KeySMTPFromName:  in.FromName,
		KeySMTPEnabled:   strconv.FormatBool(in.Enabled),
	}
	if in.Password != nil {
		values[KeySMTPPassword] = *in.Password
	}
	if err := s.store.SaveSettings(ctx, values); err != nil {
		return SMTP{}, fmt.Errorf("save smtp settings: %w", err)
	}
	return s.SMTP(ctx)
}

// SMTPConfig returns the unmasked relay settings for delivery.
func (s *Service) SMTPConfig(ctx context.Context) (gmail.SMTPConfig, error) {
	vals, err := s.store.LoadSettings(ctx, smtpKeys)
	if err != nil {
		return gmail.SMTPConfig{}, fmt.Errorf("load smtp settings: %w", err)
	}
	port, _ := strconv.Atoi(vals[KeySMTPPort])
	return gmail.SMTPConfig{
		Host:      vals[KeySMTPHost],
		Port:      port,
		Secure:    vals[KeySMTPSecure] == "true",
		Username:  vals[KeySMTPUsername],
		Password:  vals[KeySMTPPassword],
		FromEmail: vals[KeySMTPFromEmail],
		FromName:  vals[KeySMTPFromName],
		Enabled:   vals[KeySMTPEnabled] == "true",
	}, nil
}
