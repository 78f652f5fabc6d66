package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"

	"ms-checkin/internal/logger"
)

const (
	// identityKeyPrefix namespaces cached identities in Redis
	identityKeyPrefix = "auth:identity:"
	// DefaultIdentityTTL bounds how long a verified token is trusted without
	// re-verification; a token expiring sooner is cached only until it expires
	DefaultIdentityTTL = 5 * time.Minute
)

// CachingVerifier remembers verified identities in Redis so several gate
// devices presenting the same token do not each pay for verification.
type CachingVerifier struct {
	Next   Verifier
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
	Now    func() time.Time
}

func NewCachingVerifier(next Verifier, client *redis.Client, log *logger.Logger) *CachingVerifier {
	return &CachingVerifier{Next: next, Client: client, TTL: DefaultIdentityTTL, Logger: log, Now: time.Now}
}

func cacheKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return identityKeyPrefix + hex.EncodeToString(sum[:])
}

// cachedIdentity is what is stored per token. ExpiresAt is the token's own
// expiry, so an entry is never trusted past it.
type cachedIdentity struct {
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsValid checks if the cached token is still valid
func (ci cachedIdentity) IsValid(now time.Time) bool {
	return ci.ExpiresAt.IsZero() || now.Before(ci.ExpiresAt)
}

func (c *CachingVerifier) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// tokenExpiry reads exp from a token Next has already verified. Opaque
// tokens report no expiry.
func tokenExpiry(raw string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func (c *CachingVerifier) Verify(ctx context.Context, raw string) (Identity, error) {
	key := cacheKey(raw)

	cached, err := c.Client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var entry cachedIdentity
		if jerr := json.Unmarshal([]byte(cached), &entry); jerr == nil {
			if entry.Identity.UserID != "" && entry.IsValid(c.now()) {
				return entry.Identity, nil
			}
			c.Client.Del(ctx, key)
		}
	case err != redis.Nil:
		// cache outage falls through to real verification
		c.Logger.Warn("AUTH", fmt.Sprintf("identity cache read failed: %v", err))
	}

	id, err := c.Next.Verify(ctx, raw)
	if err != nil {
		return Identity{}, err
	}

	entry := cachedIdentity{Identity: id, ExpiresAt: tokenExpiry(raw)}
	ttl := c.TTL
	if !entry.ExpiresAt.IsZero() {
		left := entry.ExpiresAt.Sub(c.now())
		if left <= 0 {
			return id, nil
		}
		if left < ttl {
			ttl = left
		}
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := c.Client.Set(ctx, key, body, ttl).Err(); err != nil {
		c.Logger.Warn("AUTH", fmt.Sprintf("identity cache write failed: %v", err))
	}
	return id, nil
}
