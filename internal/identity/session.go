// Package identity resolves bearer tokens issued by the auth service into the caller identity.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// KeyPrefix namespaces session keys in redis.
const KeyPrefix = "session:"

// Session is the payload the auth service stores per token.
type Session struct {
	UserID    int64     `json:"user_id"`
	CompanyID int64     `json:"company_id"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Key returns the redis key of a token. Raw tokens are never stored.
func Key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// RedisResolver reads sessions from redis.
type RedisResolver struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisResolver constructs a RedisResolver.
func NewRedisResolver(client redis.Cmdable) *RedisResolver {
	return &RedisResolver{client: client, now: time.Now}
}

// Resolve returns the identity of token. Unknown, expired or malformed sessions are
// reported as Unauthorized; redis failures are returned wrapped.
func (r *RedisResolver) Resolve(ctx context.Context, token string) (shared.Identity, error) {
	if token == "" {
		return shared.Identity{}, shared.Unauthorized("authentication required")
	}
	raw, err := r.client.Get(ctx, Key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return shared.Identity{}, shared.Unauthorized("session expired or unknown")
	}
	if err != nil {
		return shared.Identity{}, fmt.Errorf("identity: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return shared.Identity{}, shared.Unauthorized("session is malformed")
	}
	if sess.UserID == 0 || sess.CompanyID == 0 {
		return shared.Identity{}, shared.Unauthorized("session carries no user or company")
	}
	if !sess.ExpiresAt.IsZero() && !r.now().Before(sess.ExpiresAt) {
		return shared.Identity{}, shared.Unauthorized("session expired or unknown")
	}
	return shared.Identity{
		UserID:    sess.UserID,
		CompanyID: sess.CompanyID,
		Roles:     shared.ParseRoles(sess.Roles),
	}, nil
}
