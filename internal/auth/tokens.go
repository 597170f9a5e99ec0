package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 172800000 * time.Millisecond
	DefaultRefreshTTL = 2592000000 * time.Millisecond

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the token payload shared by access and refresh tokens.
type Claims struct {
	Email     string `json:"email"`
	RoleID    string `json:"roleId,omitempty"`
	RoleTitle string `json:"role,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService signs HS256 tokens and keeps one live refresh token per user
// by storing only the hash of the most recently issued one.
type TokenService struct {
	store      CredentialStore
	hasher     Hasher
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Issue signs a fresh access/refresh pair for user and overwrites the stored
// refresh hash, invalidating every refresh token issued before.
func (t *TokenService) Issue(ctx context.Context, user User) (TokenPair, error) {
	now := t.now()
	access, err := t.sign(user, TokenTypeAccess, now, t.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.sign(user, TokenTypeRefresh, now, t.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	hash, err := t.hasher.Hash(refresh)
	if err != nil {
		return TokenPair{}, fmt.Errorf("hash refresh token: %w", err)
	}
	if err := t.store.UpdateCredentials(ctx, user.ID, CredentialUpdate{RefreshTokenHash: &hash}); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ValidateAccessToken checks signature, expiry and token type.
func (t *TokenService) ValidateAccessToken(token string) (*Claims, error) {
	return t.parse(token, TokenTypeAccess)
}

// Refresh exchanges a presented refresh token for a new pair. Every failure
// path, unknown users included, is reported as ErrUnauthorized.
func (t *TokenService) Refresh(ctx context.Context, userID, presented string) (User, TokenPair, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || presented == "" {
		return User{}, TokenPair{}, ErrUnauthorized
	}
	user, err := t.store.FindUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return User{}, TokenPair{}, ErrUnauthorized
	}
	if err != nil {
		return User{}, TokenPair{}, err
	}
	if !user.IsActive || user.RefreshTokenHash == "" {
		return User{}, TokenPair{}, ErrUnauthorized
	}
	claims, err := t.parse(presented, TokenTypeRefresh)
	if err != nil || claims.Subject != user.ID {
		return User{}, TokenPair{}, ErrUnauthorized
	}
	if !t.hasher.Verify(presented, user.RefreshTokenHash) {
		return User{}, TokenPair{}, ErrUnauthorized
	}
	pair, err := t.Issue(ctx, user)
	if err != nil {
		return User{}, TokenPair{}, err
	}
	return user, pair, nil
}

// Revoke clears the stored refresh hash. Unknown users are not an error.
func (t *TokenService) Revoke(ctx context.Context, userID string) error {
	empty := ""
	err := t.store.UpdateCredentials(ctx, userID, CredentialUpdate{RefreshTokenHash: &empty})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (t *TokenService) sign(user User, typ string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Email:     user.Email,
		RoleID:    user.RoleID,
		RoleTitle: user.RoleTitle(),
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (t *TokenService) parse(token, typ string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.TokenType != typ || claims.Subject == "" {
		return nil, fmt.Errorf("%w: unexpected token", ErrUnauthorized)
	}
	return claims, nil
}
