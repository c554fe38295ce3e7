package identity

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// CookieName is read when no Authorization header is sent.
const CookieName = "odyssey_session"

// Resolver turns a token into an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (shared.Identity, error)
}

// Middleware authenticates every request and stores the identity in its context.
func Middleware(resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, err := resolver.Resolve(r.Context(), token(r))
			if err != nil {
				httpx.RespondError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), who)))
		})
	}
}

func token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}
