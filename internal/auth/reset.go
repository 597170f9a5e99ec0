package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	netmail "net/mail"
	"strconv"
	"strings"
	"time"

	"gatehouse.dev/internal/mail"
	"gatehouse.dev/internal/obs"
)

const (
	defaultResetTTL   = time.Minute
	minPasswordLength = 6

	resetCodeMin  = 100000
	resetCodeSpan = 900000
)

// ResetFlow drives the per-user reset state kept in ResetCodeHash and
// ResetExpiresAt. A code is pending while its expiry lies in the future.
type ResetFlow struct {
	store   CredentialStore
	hasher  Hasher
	mailer  Mailer
	ttl     time.Duration
	appName string
	now     func() time.Time
	randInt func(n int64) (int64, error)
}

// Request issues a new code for email. Unknown and inactive accounts succeed
// silently without touching the store; an account with a live code gets
// ErrResetCooldown. Delivery failures are logged, not returned.
func (f *ResetFlow) Request(ctx context.Context, email string) error {
	// A malformed address is rejected outright; only well-formed ones get the
	// silent success that hides whether an account exists.
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := f.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		obs.CountResetRequest("unknown")
		return nil
	}
	if err != nil {
		return err
	}
	if !user.IsActive {
		obs.CountResetRequest("unknown")
		return nil
	}
	now := f.now()
	if user.hasPendingReset() && now.Before(*user.ResetExpiresAt) {
		obs.CountResetRequest("cooldown")
		return ErrResetCooldown
	}

	n, err := f.randInt(resetCodeSpan)
	if err != nil {
		return fmt.Errorf("generate reset code: %w", err)
	}
	code := strconv.FormatInt(resetCodeMin+n, 10)
	hash, err := f.hasher.Hash(code)
	if err != nil {
		return fmt.Errorf("hash reset code: %w", err)
	}
	expires := now.Add(f.ttl)
	if err := f.store.UpdateCredentials(ctx, user.ID, CredentialUpdate{ResetCodeHash: &hash, ResetExpiresAt: &expires}); err != nil {
		return fmt.Errorf("store reset code: %w", err)
	}

	msg := mail.PasswordResetMessage{
		To:            user.Email,
		AppName:       f.appName,
		Code:          code,
		ExpiryMinutes: int(f.ttl / time.Minute),
	}
	if err := f.mailer.SendPasswordReset(ctx, msg); err != nil {
		obs.FromContext(ctx).Warn("password reset mail failed", "user_id", user.ID, "error", err)
		obs.CountResetRequest("mail_failed")
		return nil
	}
	obs.CountResetRequest("sent")
	return nil
}

// Verify reports whether code is the live pending code for email. It never mutates state.
func (f *ResetFlow) Verify(ctx context.Context, email, code string) (bool, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return false, nil
	}
	user, err := f.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !user.hasPendingReset() || !f.now().Before(*user.ResetExpiresAt) {
		return false, nil
	}
	return f.hasher.Verify(strings.TrimSpace(code), user.ResetCodeHash), nil
}

// Complete swaps the password when code is valid. Expiry is checked before
// the code itself, so a correct but stale code reports ErrResetCodeExpired.
// On success the code and every refresh token are invalidated in one write.
func (f *ResetFlow) Complete(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := f.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return ErrResetCodeInvalid
	}
	if err != nil {
		return err
	}
	if !user.hasPendingReset() {
		return ErrResetCodeInvalid
	}
	if !f.now().Before(*user.ResetExpiresAt) {
		return ErrResetCodeExpired
	}
	if !f.hasher.Verify(strings.TrimSpace(code), user.ResetCodeHash) {
		return ErrResetCodeInvalid
	}

	pwHash, err := f.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	empty := ""
	var cleared time.Time
	return f.store.UpdateCredentials(ctx, user.ID, CredentialUpdate{
		PasswordHash:     &pwHash,
		RefreshTokenHash: &empty,
		ResetCodeHash:    &empty,
		ResetExpiresAt:   &cleared,
	})
}

func cryptoRandInt(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}
