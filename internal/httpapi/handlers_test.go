package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/mail"
	"gatehouse.dev/internal/migrate"
	"gatehouse.dev/internal/settings"
	"gatehouse.dev/internal/store/memory"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "Admin123!"
	fixedCode     = "123456"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.PasswordResetMessage
}

func (m *captureMailer) SendPasswordReset(_ context.Context, msg mail.PasswordResetMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *memory.Store
	mailer  *captureMailer
	handler http.Handler
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	ctx := context.Background()
	store := memory.New()
	hasher := auth.NewArgon2Hasher(auth.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 32, SaltLength: 16})
	if _, err := migrate.Seed(ctx, store, hasher, migrate.SeedConfig{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mailer := &captureMailer{}
	authSvc, err := auth.NewService(store, store, "test-secret",
		auth.WithHasher(hasher),
		auth.WithMailer(mailer),
		auth.WithRandom(func(int64) (int64, error) { return 23456, nil }),
	)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	rbac, err := auth.NewRBACService(store, hasher)
	if err != nil {
		t.Fatalf("rbac service: %v", err)
	}
	logs, err := audit.NewService(store)
	if err != nil {
		t.Fatalf("audit service: %v", err)
	}

	settingsSvc, err := settings.NewService(store)
	if err != nil {
		t.Fatalf("settings service: %v", err)
	}

	api, err := New(Services{
		Auth:     authSvc,
		RBAC:     rbac,
		Logs:     logs,
		Settings: settingsSvc,
		Recorder: audit.NewRecorder(store, authSvc.Resolver()),
	}, store, Options{Version: "test", RateLimitRPS: 100, RateLimitBurst: 1000})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
		mailer:  mailer,
		handler: api.Handler(),
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) expect(resp *http.Response, code int) {
	c.t.Helper()
	if resp.StatusCode != code {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		resp.Body.Close()
		c.t.Fatalf("expected status %d, got %d: %s", code, resp.StatusCode, body.String())
	}
}

func (c *apiClient) login(email, password string) auth.AuthResult {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": email, "password": password}, "")
	c.expect(resp, http.StatusOK)
	out := decode[auth.AuthResult](c.t, resp)
	if out.Tokens.AccessToken == "" || out.Tokens.RefreshToken == "" {
		c.t.Fatalf("empty tokens issued")
	}
	return out
}

func (c *apiClient) permissionID(module, action string) string {
	c.t.Helper()
	perms, err := c.store.ListPermissions(context.Background())
	if err != nil {
		c.t.Fatalf("list permissions: %v", err)
	}
	for _, p := range perms {
		if p.Module == module && p.Action == action {
			return p.ID
		}
	}
	c.t.Fatalf("permission %s:%s not seeded", module, action)
	return ""
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodGet, "/healthz", nil, "")
	api.expect(resp, http.StatusOK)
	health := decode[map[string]any](t, resp)
	if health["status"] != "ok" || health["version"] != "test" {
		t.Fatalf("unexpected health body: %v", health)
	}

	resp = api.do(http.MethodGet, "/readyz", nil, "")
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/nope", nil, "")
	api.expect(resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	api := newTestAPI(t)
	first := api.login(adminEmail, adminPassword)

	resp := api.do(http.MethodGet, "/v1/auth/me", nil, first.Tokens.AccessToken)
	api.expect(resp, http.StatusOK)
	me := decode[auth.User](t, resp)
	if me.Email != adminEmail || me.ID != first.User.ID {
		t.Fatalf("unexpected me: %+v", me)
	}

	refreshBody := map[string]any{"user_id": first.User.ID, "refresh_token": first.Tokens.RefreshToken}
	resp = api.do(http.MethodPost, "/v1/auth/refresh", refreshBody, "")
	api.expect(resp, http.StatusOK)
	second := decode[auth.AuthResult](t, resp)
	if second.Tokens.RefreshToken == first.Tokens.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	resp = api.do(http.MethodPost, "/v1/auth/refresh", refreshBody, "")
	api.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/auth/logout", nil, second.Tokens.AccessToken)
	api.expect(resp, http.StatusOK)
	if out := decode[successResponse](t, resp); !out.Success {
		t.Fatalf("logout not acknowledged")
	}

	resp = api.do(http.MethodPost, "/v1/auth/refresh", map[string]any{
		"user_id": first.User.ID, "refresh_token": second.Tokens.RefreshToken,
	}, "")
	api.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()

	page, err := api.store.List(context.Background(), audit.Filter{UserID: first.User.ID, Limit: 50})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	seen := map[audit.Action]bool{}
	for _, e := range page.Items {
		seen[e.Action] = true
	}
	for _, want := range []audit.Action{audit.ActionLogin, audit.ActionRefreshToken, audit.ActionLogout} {
		if !seen[want] {
			t.Fatalf("expected %s entry, got %+v", want, page.Items)
		}
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	api := newTestAPI(t)

	wrongPassword := api.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": adminEmail, "password": "nope"}, "")
	api.expect(wrongPassword, http.StatusUnauthorized)
	if wrongPassword.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	a := decode[map[string]any](t, wrongPassword)

	unknown := api.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": "ghost@example.com", "password": "nope"}, "")
	api.expect(unknown, http.StatusUnauthorized)
	b := decode[map[string]any](t, unknown)

	if a["error"] != b["error"] {
		t.Fatalf("error bodies differ: %v vs %v", a, b)
	}
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": adminEmail, "password": adminPassword, "remember": true}, "")
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestProtectedRoutesRequireValidToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodGet, "/v1/users", nil, "")
	api.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/users", nil, "not-a-jwt")
	api.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()

	// Refresh tokens are not accepted as access tokens.
	session := api.login(adminEmail, adminPassword)
	resp = api.do(http.MethodGet, "/v1/users", nil, session.Tokens.RefreshToken)
	api.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/users", nil, session.Tokens.AccessToken)
	api.expect(resp, http.StatusOK)
	page := decode[auth.UserPage](t, resp)
	if page.Total != 1 || page.Limit != 20 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodPost, "/v1/auth/password/forgot", map[string]any{"email": "ghost@example.com"}, "")
	api.expect(resp, http.StatusOK)
	resp.Body.Close()
	if api.mailer.count() != 0 {
		t.Fatalf("mail sent for unknown account")
	}

	resp = api.do(http.MethodPost, "/v1/auth/password/forgot", map[string]any{"email": adminEmail}, "")
	api.expect(resp, http.StatusOK)
	resp.Body.Close()
	if api.mailer.count() != 1 {
		t.Fatalf("expected one reset mail, got %d", api.mailer.count())
	}

	resp = api.do(http.MethodPost, "/v1/auth/password/forgot", map[string]any{"email": adminEmail}, "")
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/auth/password/verify", map[string]any{"email": adminEmail, "code": "000000"}, "")
	api.expect(resp, http.StatusOK)
	if decode[verifyCodeResponse](t, resp).Valid {
		t.Fatalf("wrong code verified")
	}
	resp = api.do(http.MethodPost, "/v1/auth/password/verify", map[string]any{"email": adminEmail, "code": fixedCode}, "")
	api.expect(resp, http.StatusOK)
	if !decode[verifyCodeResponse](t, resp).Valid {
		t.Fatalf("expected code to verify")
	}

	resp = api.do(http.MethodPost, "/v1/auth/password/reset", map[string]any{
		"email": adminEmail, "code": "999999", "new_password": "Changed123!",
	}, "")
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/auth/password/reset", map[string]any{
		"email": adminEmail, "code": fixedCode, "new_password": "Changed123!",
	}, "")
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": adminEmail, "password": adminPassword}, "")
	api.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()
	api.login(adminEmail, "Changed123!")
}

func TestActivityLogEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(adminEmail, adminPassword).Tokens.AccessToken

	resp := api.do(http.MethodGet, "/v1/activity-logs?action=login", nil, token)
	api.expect(resp, http.StatusOK)
	page := decode[audit.Page](t, resp)
	if page.Total != 1 || page.Items[0].UserEmail != adminEmail {
		t.Fatalf("unexpected log page: %+v", page)
	}
	if page.Items[0].IPAddress == "" || page.Items[0].Browser == "" {
		t.Fatalf("request metadata not captured: %+v", page.Items[0])
	}

	for _, query := range []string{"action=bogus", "start_date=yesterday", "order=sideways", "limit=-1"} {
		resp = api.do(http.MethodGet, "/v1/activity-logs?"+query, nil, token)
		api.expect(resp, http.StatusBadRequest)
		resp.Body.Close()
	}

	resp = api.do(http.MethodDelete, "/v1/activity-logs", nil, token)
	api.expect(resp, http.StatusOK)
	if out := decode[purgeResponse](t, resp); out.Deleted < 1 {
		t.Fatalf("expected entries to be purged, got %d", out.Deleted)
	}
}
