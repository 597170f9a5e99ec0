package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.dev/internal/auth"
)

const fixedCode = "123456"

func TestRequestResetUnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)
	before := f.store.writes()

	err := f.svc.RequestPasswordReset(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.Equal(t, before, f.store.writes())
	assert.Zero(t, f.mailer.count())
}

func TestRequestResetRejectsMalformedEmail(t *testing.T) {
	f := newFixture(t)
	err := f.svc.RequestPasswordReset(context.Background(), "not an email")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestRequestResetSendsCode(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "kim@example.com", "Secret123!", "")

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), u.Email))
	require.Equal(t, 1, f.mailer.count())
	msg := f.mailer.last()
	assert.Equal(t, u.Email, msg.To)
	assert.Equal(t, fixedCode, msg.Code)
	assert.Equal(t, "Gatehouse Test", msg.AppName)
	assert.Equal(t, 1, msg.ExpiryMinutes)

	stored := f.stored(t, u.ID)
	require.NotNil(t, stored.ResetExpiresAt)
	assert.Equal(t, f.clock.Now().Add(time.Minute), *stored.ResetExpiresAt)
	assert.True(t, f.hasher.Verify(fixedCode, stored.ResetCodeHash))
}

func TestRequestResetCooldown(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "lee@example.com", "Secret123!", "")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestPasswordReset(ctx, u.Email))
	firstHash := f.stored(t, u.ID).ResetCodeHash

	f.clock.Advance(30 * time.Second)
	err := f.svc.RequestPasswordReset(ctx, u.Email)
	assert.ErrorIs(t, err, auth.ErrResetCooldown)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	assert.Equal(t, 1, f.mailer.count())

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, u.Email))
	assert.Equal(t, 2, f.mailer.count())
	assert.NotEqual(t, firstHash, f.stored(t, u.ID).ResetCodeHash)
}

func TestRequestResetSwallowsMailFailure(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errMailDown
	u := f.user(t, "max@example.com", "Secret123!", "")

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), u.Email))
	assert.NotEmpty(t, f.stored(t, u.ID).ResetCodeHash)
}

func TestVerifyResetCode(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "ned@example.com", "Secret123!", "")
	ctx := context.Background()

	ok, err := f.svc.VerifyPasswordResetCode(ctx, u.Email, fixedCode)
	require.NoError(t, err)
	assert.False(t, ok, "no pending code")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, u.Email))
	writes := f.store.writes()

	ok, err = f.svc.VerifyPasswordResetCode(ctx, u.Email, fixedCode)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.VerifyPasswordResetCode(ctx, u.Email, "654321")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.VerifyPasswordResetCode(ctx, "ghost@example.com", fixedCode)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, writes, f.store.writes())

	f.clock.Advance(time.Minute)
	ok, err = f.svc.VerifyPasswordResetCode(ctx, u.Email, fixedCode)
	require.NoError(t, err)
	assert.False(t, ok, "expired code")
}

func TestResetPasswordExpiredBeatsInvalid(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "oli@example.com", "Secret123!", "")
	ctx := context.Background()
	require.NoError(t, f.svc.RequestPasswordReset(ctx, u.Email))

	f.clock.Advance(time.Minute + time.Second)
	err := f.svc.ResetPassword(ctx, u.Email, fixedCode, "NewSecret1")
	assert.ErrorIs(t, err, auth.ErrResetCodeExpired)
	assert.NotErrorIs(t, err, auth.ErrResetCodeInvalid)
}

func TestResetPasswordInvalidCases(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "pia@example.com", "Secret123!", "")
	pending := f.user(t, "quin@example.com", "Secret123!", "")
	ctx := context.Background()
	require.NoError(t, f.svc.RequestPasswordReset(ctx, pending.Email))

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, u.Email, fixedCode, "NewSecret1"), auth.ErrResetCodeInvalid)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "ghost@example.com", fixedCode, "NewSecret1"), auth.ErrResetCodeInvalid)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, pending.Email, "000000", "NewSecret1"), auth.ErrResetCodeInvalid)

	err := f.svc.ResetPassword(ctx, pending.Email, fixedCode, "short")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	assert.NotErrorIs(t, err, auth.ErrResetCodeInvalid)
}

func TestResetPasswordForcesReauthentication(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "rae@example.com", "Secret123!", "")
	ctx := context.Background()

	session, err := f.svc.Login(ctx, u.Email, "Secret123!")
	require.NoError(t, err)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, u.Email))
	require.NoError(t, f.svc.ResetPassword(ctx, u.Email, fixedCode, "NewSecret1"))

	stored := f.stored(t, u.ID)
	assert.Empty(t, stored.ResetCodeHash)
	assert.Nil(t, stored.ResetExpiresAt)
	assert.Empty(t, stored.RefreshTokenHash)

	_, err = f.svc.RefreshTokens(ctx, u.ID, session.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = f.svc.Login(ctx, u.Email, "Secret123!")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	_, err = f.svc.Login(ctx, u.Email, "NewSecret1")
	assert.NoError(t, err)

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, u.Email, fixedCode, "Another1"), auth.ErrResetCodeInvalid)
}
