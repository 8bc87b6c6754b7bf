package token

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// KeySetResolver resolves token verification keys from an org's JWKS
// endpoint, caching fetched sets per URL. Many readers, one writer per URL.
type KeySetResolver struct {
	client *http.Client

	mu    sync.RWMutex
	cache map[string]jwk.Set
}

// NewKeySetResolver returns a resolver fetching over client (or
// http.DefaultClient when nil).
func NewKeySetResolver(client *http.Client) *KeySetResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &KeySetResolver{client: client, cache: make(map[string]jwk.Set)}
}

// Keyfunc returns a jwt.Keyfunc that resolves the token's kid against the
// JWKS at jwksURL. A kid not present in the cached set triggers one refetch,
// covering server key rotation.
func (r *KeySetResolver) Keyfunc(ctx context.Context, jwksURL string) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token: missing kid header")
		}
		pub, err := r.lookup(ctx, jwksURL, kid, false)
		if err != nil {
			return r.lookup(ctx, jwksURL, kid, true)
		}
		return pub, nil
	}
}

func (r *KeySetResolver) lookup(ctx context.Context, jwksURL, kid string, refetch bool) (*ecdsa.PublicKey, error) {
	r.mu.RLock()
	set, ok := r.cache[jwksURL]
	r.mu.RUnlock()

	if !ok || refetch {
		fetched, err := jwk.Fetch(ctx, jwksURL, jwk.WithHTTPClient(r.client))
		if err != nil {
			return nil, fmt.Errorf("token: fetch JWKS %s: %w", jwksURL, err)
		}
		r.mu.Lock()
		r.cache[jwksURL] = fetched
		r.mu.Unlock()
		set = fetched
	}

	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("token: kid %q not found in JWKS", kid)
	}
	var pub ecdsa.PublicKey
	if err := jwk.Export(key, &pub); err != nil {
		return nil, fmt.Errorf("token: export key %q: %w", kid, err)
	}
	return &pub, nil
}

// StaticKeyfunc returns a jwt.Keyfunc that always yields pub. Used for
// self-verification and in tests.
func StaticKeyfunc(pub *ecdsa.PublicKey) jwt.Keyfunc {
	return func(*jwt.Token) (any, error) { return pub, nil }
}
