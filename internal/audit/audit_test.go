package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	filter  Filter
}

func (s *fakeStore) Append(_ context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Entry{}, s.err
	}
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *fakeStore) List(_ context.Context, f Filter) (Page, error) {
	s.filter = f
	return Page{Limit: f.Limit, Offset: f.Offset}, nil
}

func (s *fakeStore) Purge(context.Context) (int64, error) {
	n := int64(len(s.entries))
	s.entries = nil
	return n, nil
}

type fakeResolver struct {
	tokens map[string]string
}

func (r fakeResolver) Resolve(_ context.Context, c auth.Caller) (auth.Identity, bool) {
	id, ok := r.tokens[c.Token]
	return auth.Identity{UserID: id}, ok
}

var loginDescriptor = Descriptor{Action: ActionLogin, Description: "User logged in", ResourceType: "auth"}

func TestRecorderActorPriority(t *testing.T) {
	resolver := fakeResolver{tokens: map[string]string{"tok": "from-token"}}
	cases := []struct {
		name string
		call Call
		want string
	}{
		{
			name: "session wins",
			call: Call{
				Caller: auth.Caller{Session: &auth.Identity{UserID: "from-session"}, Token: "tok"},
				Result: auth.User{ID: "from-result"},
			},
			want: "from-session",
		},
		{
			name: "token subject",
			call: Call{Caller: auth.Caller{Token: "tok"}, Result: auth.User{ID: "from-result"}},
			want: "from-token",
		},
		{
			name: "result user",
			call: Call{Caller: auth.Caller{Token: "bad"}, Result: auth.AuthResult{User: auth.User{ID: "from-result"}}},
			want: "from-result",
		},
		{
			name: "user id argument",
			call: Call{Args: map[string]any{"user_id": " from-args "}},
			want: "from-args",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{}
			NewRecorder(store, resolver).Record(context.Background(), loginDescriptor, tc.call)
			require.Len(t, store.entries, 1)
			assert.Equal(t, tc.want, store.entries[0].UserID)
		})
	}
}

func TestRecorderSkipsUnattributedCalls(t *testing.T) {
	store := &fakeStore{}
	NewRecorder(store, fakeResolver{}).Record(context.Background(), loginDescriptor, Call{
		Args:   map[string]any{"email": "ghost@example.com"},
		Result: map[string]bool{"success": true},
	})
	assert.Empty(t, store.entries)
}

func TestRecorderCapturesRequestAndRedactsSecrets(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, nil)
	rec.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	req := httptest.NewRequest("POST", "/v1/users/u-9?x=1", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile Safari/604.1")

	rec.Record(context.Background(), Descriptor{Action: ActionUpdate, Description: "User updated", ResourceType: "user"}, Call{
		Caller:    auth.Caller{Session: &auth.Identity{UserID: "admin"}},
		Operation: "updateUser",
		Args:      map[string]any{"id": "u-9", "password": "hunter22", "profile": map[string]any{"code": "123456", "city": "Almaty"}},
		Request:   RequestInfoFrom(req),
	})

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	assert.Equal(t, "u-9", e.ResourceID)
	assert.Equal(t, LogTypeActivity, e.LogType)
	assert.Equal(t, "203.0.113.7", e.IPAddress)
	assert.Equal(t, "Mobile", e.Device)
	assert.Equal(t, "Safari", e.Browser)
	assert.Equal(t, "macOS", e.OS, "Mac OS X in the iPhone agent matches first")
	assert.Equal(t, "/v1/users/u-9?x=1", e.Metadata["url"])
	assert.Equal(t, "updateUser", e.Metadata["operation"])

	vars := e.Metadata["variables"].(map[string]any)
	assert.Equal(t, "[REDACTED]", vars["password"])
	profile := vars["profile"].(map[string]any)
	assert.Equal(t, "[REDACTED]", profile["code"])
	assert.Equal(t, "Almaty", profile["city"])
}

func TestRecorderSwallowsStoreErrors(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer obs.SetLogger(prev)

	store := &fakeStore{err: errors.New("disk full")}
	NewRecorder(store, nil).Record(context.Background(), loginDescriptor, Call{
		Caller: auth.Caller{Session: &auth.Identity{UserID: "u-1"}},
	})
	assert.Contains(t, buf.String(), "audit: append failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestParseUserAgent(t *testing.T) {
	cases := map[string]ClientInfo{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36": {Device: "Desktop", Browser: "Chrome", OS: "Windows"},
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0":                   {Device: "Desktop", Browser: "Firefox", OS: "Linux"},
		"Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36":     {Device: "Mobile", Browser: "Chrome", OS: "Android"},
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 Version/17.1 Mobile/15E148 Safari/604.1": {Device: "Mobile", Browser: "Safari", OS: "iOS"},
		"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 CriOS/120.0 Mobile/15E148 Safari/604.1":          {Device: "Mobile", Browser: "Chrome", OS: "iOS"},
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0":                  {Device: "Desktop", Browser: "Edge", OS: "Windows"},
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_1) AppleWebKit/605.1.15 Version/17.1 Safari/605.1.15":                     {Device: "Desktop", Browser: "Safari", OS: "macOS"},
		"curl/8.4.0": {Device: "Desktop", Browser: "Unknown", OS: "Unknown"},
	}
	for ua, want := range cases {
		assert.Equal(t, want, ParseUserAgent(ua), ua)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "192.0.2.10", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.1 , 10.0.0.2")
	assert.Equal(t, "203.0.113.1", ClientIP(req))

	bare := httptest.NewRequest("GET", "/", nil)
	bare.RemoteAddr = ""
	assert.Equal(t, "unknown", ClientIP(bare))
}

func TestServiceListValidatesFilter(t *testing.T) {
	store := &fakeStore{}
	svc, err := NewService(store)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.List(ctx, Filter{Action: "explode"})
	assert.ErrorIs(t, err, ErrInvalidFilter)
	_, err = svc.List(ctx, Filter{LogType: "debug"})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, Filter{Start: &start, End: &end})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	page, err := svc.List(ctx, Filter{Limit: 1000, Offset: -5, Search: "  login "})
	require.NoError(t, err)
	assert.Equal(t, 100, page.Limit)
	assert.Equal(t, 0, page.Offset)
	assert.Equal(t, "login", store.filter.Search)

	page, err = svc.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 20, page.Limit)

	_, err = NewService(nil)
	assert.Error(t, err)
}

func TestLogEventWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer obs.SetLogger(prev)

	ctx := auth.ContextWithIdentity(context.Background(), auth.Identity{UserID: "u-7"})
	require.NoError(t, LogEvent(ctx, "authz.denied", map[string]any{"operation": "deleteUser"}))
	require.Error(t, LogEvent(ctx, "  ", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	assert.Equal(t, "audit_event", line["msg"])
	assert.Equal(t, "authz.denied", line["event"])
	assert.Equal(t, "u-7", line["user_id"])
}
