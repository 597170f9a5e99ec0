package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig is the relay configuration read at send time.
type SMTPConfig struct {
	Host      string
	Port      int
	Secure    bool
	Username  string
	Password  string
	FromEmail string
	FromName  string
	Enabled   bool
}

func (c SMTPConfig) usable() bool {
	return c.Enabled && c.Host != "" && c.Port > 0 && c.FromEmail != ""
}

// ConfigSource supplies the current relay configuration.
type ConfigSource interface {
	SMTPConfig(ctx context.Context) (SMTPConfig, error)
}

// ResetSender delivers password reset messages.
type ResetSender interface {
	SendPasswordReset(ctx context.Context, msg PasswordResetMessage) error
}

type sendFunc func(ctx context.Context, cfg SMTPConfig, from string, to []string, msg []byte) error

// SMTPMailer delivers through the relay configured at call time. While the
// relay is disabled or incomplete, messages go to the fallback.
type SMTPMailer struct {
	source   ConfigSource
	fallback ResetSender
	send     sendFunc
	now      func() time.Time
}

func NewSMTPMailer(source ConfigSource, fallback ResetSender) *SMTPMailer {
	return &SMTPMailer{source: source, fallback: fallback, send: deliver, now: time.Now}
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, msg PasswordResetMessage) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("mail: recipient is required")
	}
	cfg, err := m.source.SMTPConfig(ctx)
	if err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	if !cfg.usable() {
		if m.fallback == nil {
			return errors.New("mail: smtp delivery is not configured")
		}
		return m.fallback.SendPasswordReset(ctx, msg)
	}
	from := netmail.Address{Name: cfg.FromName, Address: cfg.FromEmail}
	body := compose(from, msg, m.now())
	if err := m.send(ctx, cfg, cfg.FromEmail, []string{msg.To}, body); err != nil {
		return fmt.Errorf("mail: send via %s: %w", cfg.Host, err)
	}
	return nil
}

func compose(from netmail.Address, msg PasswordResetMessage, now time.Time) []byte {
	headers := []string{
		"From: " + from.String(),
		"To: " + msg.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject()),
		"Date: " + now.Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: 8bit",
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.Body() + "\r\n")
}

// deliver speaks SMTP to the relay: implicit TLS when Secure, otherwise
// STARTTLS when offered. Credentials are sent only when configured.
func deliver(ctx context.Context, cfg SMTPConfig, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tlsConfig := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var (
		conn net.Conn
		err  error
	)
	if cfg.Secure {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if !cfg.Secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}
	if cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
