package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultCertTTL = time.Hour

// certCache holds the kid -> public key map published as PEM certificates.
// The TTL follows the Cache-Control max-age of the last response.
type certCache struct {
	httpClient *http.Client
	url        string

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	now       func() time.Time
}

func newCertCache(httpClient *http.Client, url string) *certCache {
	return &certCache{httpClient: httpClient, url: url, keys: map[string]*rsa.PublicKey{}, now: time.Now}
}

func (c *certCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, fresh := c.keys[kid], c.now().Before(c.expiresAt)
	c.mu.RUnlock()
	if key != nil && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		// serve a stale key rather than lock every user out
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if key = c.keys[kid]; key == nil {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return key, nil
}

func (c *certCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("cert fetch failed: %s", res.Status)
	}

	var pems map[string]string
	if err := json.NewDecoder(res.Body).Decode(&pems); err != nil {
		return err
	}
	next := make(map[string]*rsa.PublicKey, len(pems))
	for kid, pem := range pems {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			continue
		}
		next[kid] = pub
	}
	if len(next) == 0 {
		return fmt.Errorf("cert response contained no usable keys")
	}

	c.mu.Lock()
	c.keys = next
	c.expiresAt = c.now().Add(maxAge(res.Header.Get("Cache-Control")))
	c.mu.Unlock()
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "max-age="); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return time.Duration(n) * time.Second
			}
		}
	}
	return defaultCertTTL
}
