package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.dev/internal/mail"
	"gatehouse.dev/internal/obs"
)

// Service wires the token, reset and authorization components over one
// credential store and exposes the caller-facing operations.
type Service struct {
	users   CredentialStore
	grants  GrantStore
	hasher  Hasher
	mailer  Mailer
	now     func() time.Time
	randInt func(int64) (int64, error)

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	appName    string

	tokens     *TokenService
	resolver   *IdentityResolver
	authorizer *Authorizer
	reset      *ResetFlow
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: access ttl must be positive")
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: refresh ttl must be positive")
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithResetCodeTTL configures how long a password reset code stays valid.
func WithResetCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: reset code ttl must be positive")
		}
		s.resetTTL = ttl
		return nil
	}
}

// WithIssuer sets the token issuer claim and requires it on validation.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAppName sets the display name used in reset emails.
func WithAppName(name string) ServiceOption {
	return func(s *Service) error {
		if name = strings.TrimSpace(name); name != "" {
			s.appName = name
		}
		return nil
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return errors.New("auth: clock is nil")
		}
		s.now = now
		return nil
	}
}

// WithRandom replaces the reset-code generator. fn must return a uniform
// value in [0, n).
func WithRandom(fn func(n int64) (int64, error)) ServiceOption {
	return func(s *Service) error {
		if fn == nil {
			return errors.New("auth: random source is nil")
		}
		s.randInt = fn
		return nil
	}
}

func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) error {
		if m == nil {
			return errors.New("auth: mailer is nil")
		}
		s.mailer = m
		return nil
	}
}

// NewService constructs the auth service. secret signs every token.
func NewService(users CredentialStore, grants GrantStore, secret string, opts ...ServiceOption) (*Service, error) {
	if users == nil || grants == nil {
		return nil, errors.New("auth: credential and grant stores are required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	s := &Service{
		users:      users,
		grants:     grants,
		hasher:     NewArgon2Hasher(DefaultArgon2Params()),
		mailer:     mail.NewLogMailer(nil),
		now:        time.Now,
		randInt:    cryptoRandInt,
		secret:     []byte(secret),
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		resetTTL:   defaultResetTTL,
		appName:    "Gatehouse",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.tokens = &TokenService{
		store:      s.users,
		hasher:     s.hasher,
		secret:     s.secret,
		issuer:     s.issuer,
		accessTTL:  s.accessTTL,
		refreshTTL: s.refreshTTL,
		now:        s.now,
	}
	s.resolver = &IdentityResolver{tokens: s.tokens, users: s.users}
	s.authorizer = &Authorizer{grants: s.grants, resolver: s.resolver}
	s.reset = &ResetFlow{
		store:   s.users,
		hasher:  s.hasher,
		mailer:  s.mailer,
		ttl:     s.resetTTL,
		appName: s.appName,
		now:     s.now,
		randInt: s.randInt,
	}
	return s, nil
}

// Hasher exposes the configured hasher so administration shares the same parameters.
func (s *Service) Hasher() Hasher { return s.hasher }

func (s *Service) Resolver() *IdentityResolver { return s.resolver }

// Login verifies credentials and issues a new token pair. Every mismatch is ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil || password == "" {
		obs.CountLogin("invalid_credentials")
		return AuthResult{}, ErrUnauthorized
	}
	user, err := s.users.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		obs.CountLogin("invalid_credentials")
		return AuthResult{}, ErrUnauthorized
	}
	if err != nil {
		obs.CountLogin("error")
		return AuthResult{}, err
	}
	if !user.IsActive || !s.hasher.Verify(password, user.PasswordHash) {
		obs.CountLogin("invalid_credentials")
		return AuthResult{}, ErrUnauthorized
	}
	pair, err := s.tokens.Issue(ctx, user)
	if err != nil {
		obs.CountLogin("error")
		return AuthResult{}, err
	}
	obs.CountLogin("success")
	return AuthResult{User: user, Tokens: pair}, nil
}

// RefreshTokens rotates the caller's refresh token.
func (s *Service) RefreshTokens(ctx context.Context, userID, refreshToken string) (AuthResult, error) {
	user, pair, err := s.tokens.Refresh(ctx, userID, refreshToken)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			obs.CountRefresh("rejected")
		} else {
			obs.CountRefresh("error")
		}
		return AuthResult{}, err
	}
	obs.CountRefresh("success")
	return AuthResult{User: user, Tokens: pair}, nil
}

// Logout revokes the user's refresh token. Repeated calls succeed.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.tokens.Revoke(ctx, userID); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	return s.reset.Request(ctx, email)
}

func (s *Service) VerifyPasswordResetCode(ctx context.Context, email, code string) (bool, error) {
	return s.reset.Verify(ctx, email, code)
}

func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	return s.reset.Complete(ctx, email, code, newPassword)
}

func (s *Service) Authorize(ctx context.Context, caller Caller, reqs ...Requirement) error {
	return s.authorizer.Authorize(ctx, caller, reqs...)
}

func (s *Service) ResolveIdentity(ctx context.Context, caller Caller) (Identity, bool) {
	return s.resolver.Resolve(ctx, caller)
}

// Authenticate turns a bearer access token into the caller's session identity.
// The user record is reloaded so deactivation, deletion and role changes take
// effect before the token expires. Unknown or inactive users are ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := s.tokens.ValidateAccessToken(token)
	if err != nil {
		return Identity{}, err
	}
	user, err := s.users.FindUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, fmt.Errorf("%w: unknown user", ErrUnauthorized)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("load session user: %w", err)
	}
	if !user.IsActive {
		return Identity{}, fmt.Errorf("%w: user is inactive", ErrUnauthorized)
	}
	return IdentityFromUser(user), nil
}

func (s *Service) ValidateAccessToken(token string) (*Claims, error) {
	return s.tokens.ValidateAccessToken(token)
}
