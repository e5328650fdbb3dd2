package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"
)

// JWKSKeyfunc fetches the provider key set and refreshes it every interval
// until ctx ends. Tokens are matched by kid, falling back to the first key.
func JWKSKeyfunc(ctx context.Context, url string, client *http.Client, interval time.Duration) (jwt.Keyfunc, error) {
	set, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	var mu sync.RWMutex
	if interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					next, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(client))
					if err != nil {
						log.Warn().Err(err).Str("jwks_url", url).Msg("refresh jwks")
						continue
					}
					mu.Lock()
					set = next
					mu.Unlock()
				}
			}
		}()
	}
	return func(t *jwt.Token) (interface{}, error) {
		mu.RLock()
		cur := set
		mu.RUnlock()
		kid, _ := t.Header["kid"].(string)
		key, ok := cur.LookupKeyID(kid)
		if !ok {
			if kid != "" || cur.Len() == 0 {
				return nil, fmt.Errorf("no jwk for kid %q", kid)
			}
			key, _ = cur.Key(0)
		}
		var pub any
		if err := key.Raw(&pub); err != nil {
			return nil, err
		}
		return pub, nil
	}, nil
}
