package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zeitwise/detox-backend/internal/platform/httpx"
)

const (
	DefaultJWKSCacheTTL = time.Hour
	// DefaultJWKSMinRefresh bounds how often lookups may hit the provider.
	DefaultJWKSMinRefresh = time.Minute
)

// JWKSCache holds the signing keys of an identity provider, keyed by kid.
// Keys are refetched when the TTL lapses or an unknown kid shows up, at most
// once per minRefresh; concurrent refetches share one request.
type JWKSCache struct {
	httpClient *http.Client
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	now        func() time.Time
	group      singleflight.Group

	mu          sync.RWMutex
	keys        map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

func NewJWKSCache(httpClient *http.Client, url string, ttl time.Duration) *JWKSCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultJWKSCacheTTL
	}
	return &JWKSCache{
		httpClient: httpClient,
		url:        strings.TrimSpace(url),
		ttl:        ttl,
		minRefresh: DefaultJWKSMinRefresh,
		now:        time.Now,
		keys:       map[string]any{},
	}
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`

	// RSA
	N string `json:"n"`
	E string `json:"e"`

	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (j *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	j.mu.RLock()
	key := j.keys[kid]
	stale := j.now().Sub(j.fetchedAt) > j.ttl
	j.mu.RUnlock()

	if key != nil && !stale {
		return key, nil
	}
	if j.url == "" {
		return nil, errors.New("jwks url not set")
	}

	if err := j.maybeRefresh(ctx); err != nil {
		// a stale key beats no key while the provider is unreachable
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	key = j.keys[kid]
	if key == nil {
		return nil, fmt.Errorf("kid not found in jwks: %s", kid)
	}
	return key, nil
}

// maybeRefresh refetches the key set unless an attempt was made within
// minRefresh, in which case it returns without touching the network.
func (j *JWKSCache) maybeRefresh(ctx context.Context) error {
	_, err, _ := j.group.Do("jwks", func() (any, error) {
		j.mu.Lock()
		now := j.now()
		if !j.lastAttempt.IsZero() && now.Sub(j.lastAttempt) < j.minRefresh {
			j.mu.Unlock()
			return nil, nil
		}
		j.lastAttempt = now
		j.mu.Unlock()
		return nil, j.refresh(ctx)
	})
	return err
}

func (j *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return err
	}
	res, err := j.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := httpx.ReadLimited(res.Body, 1<<20)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &httpx.StatusError{Service: "jwks", StatusCode: res.StatusCode, Body: string(body)}
	}

	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	next := map[string]any{}
	for _, k := range set.Keys {
		if strings.TrimSpace(k.Kid) == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			if pub, err := rsaFromModExp(k.N, k.E); err == nil {
				next[k.Kid] = pub
			}
		case "EC":
			if pub, err := ecdsaFromXY(k.Crv, k.X, k.Y); err == nil {
				next[k.Kid] = pub
			}
		}
	}
	if len(next) == 0 {
		return fmt.Errorf("jwks contained no usable keys")
	}

	j.mu.Lock()
	j.keys = next
	j.fetchedAt = j.now()
	j.mu.Unlock()
	return nil
}

func rsaFromModExp(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

func ecdsaFromXY(crv, xB64, yB64 string) (*ecdsa.PublicKey, error) {
	if crv != "P-256" {
		return nil, fmt.Errorf("unsupported curve: %s", crv)
	}
	curve := elliptic.P256()
	xb, err := base64.RawURLEncoding.DecodeString(xB64)
	if err != nil {
		return nil, err
	}
	yb, err := base64.RawURLEncoding.DecodeString(yB64)
	if err != nil {
		return nil, err
	}
	x := new(big.Int).SetBytes(xb)
	y := new(big.Int).SetBytes(yb)
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("invalid EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
