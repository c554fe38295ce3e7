package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

func newResolver(t *testing.T) (*RedisResolver, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisResolver(client), mr
}

func store(t *testing.T, mr *miniredis.Miniredis, token string, sess Session) {
	t.Helper()
	raw, err := json.Marshal(sess)
	require.NoError(t, err)
	require.NoError(t, mr.Set(Key(token), string(raw)))
}

func TestResolveSession(t *testing.T) {
	resolver, mr := newResolver(t)
	store(t, mr, "tok-1", Session{UserID: 7, CompanyID: 1, Roles: []string{"Super Admin", "Sales-Manager"}})

	who, err := resolver.Resolve(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), who.UserID)
	assert.Equal(t, int64(1), who.CompanyID)
	assert.True(t, who.IsSuperAdmin())
	assert.True(t, who.HasRole("sales manager"))
}

func TestResolveRejectsUnknownAndExpired(t *testing.T) {
	resolver, mr := newResolver(t)
	resolver.now = func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }
	store(t, mr, "old", Session{UserID: 7, CompanyID: 1, ExpiresAt: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, mr.Set(Key("junk"), "{"))

	for _, tok := range []string{"", "missing", "old", "junk"} {
		_, err := resolver.Resolve(context.Background(), tok)
		require.ErrorIs(t, err, shared.ErrUnauthorized, tok)
	}
}

func TestMiddleware(t *testing.T) {
	resolver, mr := newResolver(t)
	store(t, mr, "tok-1", Session{UserID: 7, CompanyID: 1})

	h := Middleware(resolver, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, ok := shared.IdentityFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, int64(7), who.UserID)
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok-1") }, http.StatusNoContent},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: "tok-1"}) }, http.StatusNoContent},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic tok-1") }, http.StatusUnauthorized},
		{"anonymous", func(*http.Request) {}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/sales-orders", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), shared.CodeUnauthorized)
			}
		})
	}
}
