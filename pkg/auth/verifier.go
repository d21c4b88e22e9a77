// Package auth verifies bearer tokens issued to order desk operators.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abgdnv/storefront/pkg/config"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// acceptableSkew tolerates small clock differences between the IdP and the desk.
const acceptableSkew = 30 * time.Second

// ErrInvalidToken is returned for every token that does not pass verification.
var ErrInvalidToken = errors.New("invalid bearer token")

type Verifier interface {
	Verify(ctx context.Context, tokenString string) (jwt.Token, error)
}

// keyCache keeps the last fetched JWKS. A failed refetch keeps serving the stale set.
type keyCache struct {
	url         string
	minInterval time.Duration

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time
}

func (c *keyCache) fresh() (jwk.Set, bool) {
	return c.set, c.set != nil && time.Since(c.fetchedAt) < c.minInterval
}

func (c *keyCache) get(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	set, ok := c.fresh()
	c.mu.RUnlock()
	if ok {
		return set, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.fresh(); ok {
		return set, nil
	}
	fetched, err := jwk.Fetch(ctx, c.url)
	switch {
	case err == nil:
		c.set, c.fetchedAt = fetched, time.Now()
		return fetched, nil
	case c.set != nil:
		return c.set, nil
	default:
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", c.url, err)
	}
}

// JWTVerifier accepts tokens signed by the configured IdP for the desk client.
type JWTVerifier struct {
	keys     *keyCache
	issuer   string
	clientID string
}

// NewJWTVerifier creates a verifier and fetches the key set once so a bad configuration fails at startup.
func NewJWTVerifier(ctx context.Context, cfg config.IdP) (*JWTVerifier, error) {
	v := &JWTVerifier{
		keys:     &keyCache{url: cfg.JwksURL, minInterval: cfg.MinInterval},
		issuer:   cfg.Issuer,
		clientID: cfg.ClientID,
	}
	if _, err := v.keys.get(ctx); err != nil {
		return nil, fmt.Errorf("initial JWKS fetch failed: %w", err)
	}
	return v, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (jwt.Token, error) {
	set, err := v.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	token, err := jwt.Parse([]byte(tokenString),
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(acceptableSkew),
		jwt.WithIssuer(v.issuer),
		// authorized party must be the desk client
		jwt.WithClaimValue("azp", v.clientID),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return token, nil
}
