// Package auth verifies bearer tokens and maps their claims onto a tenant
// and a planning role.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles, from most to least privileged.
const (
	RoleAdmin   = "admin"
	RolePlanner = "planner"
	RoleViewer  = "viewer"
)

var (
	ErrMissingTenant = errors.New("missing tenant claim")
	ErrUnknownKey    = errors.New("signing key not found in JWKS")
)

// Verifier checks bearer tokens. Mode is one of
//
//	dev   tokens are "tenant:role" and nothing is verified
//	hmac  HS256 JWTs signed with HMACSecret
//	jwks  RS256 JWTs signed by a key published at JWKSURL
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	JWKSURL     string
	TenantClaim string
	RoleClaim   string
	http        *http.Client
	now         func() time.Time

	mu       sync.RWMutex
	keys     map[string]any
	fetched  time.Time
	cacheTTL time.Duration
}

type Principal struct {
	Tenant string
	Role   string
}

// NormalizeRole maps a claim value onto a known role. Unknown roles get
// the least privilege.
func NormalizeRole(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case RoleAdmin:
		return RoleAdmin
	case RolePlanner, "dispatcher", "operator":
		return RolePlanner
	}
	return RoleViewer
}

func NewVerifierFromEnv() *Verifier {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:        mode,
		HMACSecret:  []byte(os.Getenv("AUTH_HMAC_SECRET")),
		JWKSURL:     os.Getenv("AUTH_JWKS_URL"),
		TenantClaim: envOr("AUTH_TENANT_CLAIM", "tenant"),
		RoleClaim:   envOr("AUTH_ROLE_CLAIM", "role"),
		http:        &http.Client{Timeout: 5 * time.Second},
		now:         time.Now,
		cacheTTL:    10 * time.Minute,
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		tenant, role, ok := strings.Cut(token, ":")
		if !ok || tenant == "" {
			return Principal{}, errors.New("invalid dev token; expected tenant:role")
		}
		return Principal{Tenant: tenant, Role: NormalizeRole(role)}, nil
	}

	var (
		methods []string
		keyFn   jwt.Keyfunc
	)
	switch v.Mode {
	case "hmac":
		methods = []string{jwt.SigningMethodHS256.Alg()}
		keyFn = func(*jwt.Token) (any, error) { return v.HMACSecret, nil }
	case "jwks":
		methods = []string{jwt.SigningMethodRS256.Alg()}
		keyFn = func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return v.key(context.Background(), kid)
		}
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, keyFn, jwt.WithValidMethods(methods), jwt.WithTimeFunc(v.clock)); err != nil {
		return Principal{}, err
	}
	tenant, _ := claims[v.TenantClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	if tenant == "" {
		return Principal{}, ErrMissingTenant
	}
	return Principal{Tenant: tenant, Role: NormalizeRole(role)}, nil
}

// key returns the RSA key for kid, refetching the key set when it is stale
// or does not know kid.
func (v *Verifier) key(ctx context.Context, kid string) (any, error) {
	v.mu.RLock()
	k, ok := v.keys[kid]
	stale := v.clock().Sub(v.fetched) > v.cacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return k, nil
	}
	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if k, ok := v.keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *Verifier) refresh(ctx context.Context) error {
	if v.JWKSURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	client := v.http
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.JWKSURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: %s", resp.Status)
	}
	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			return fmt.Errorf("jwks kid %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	v.mu.Lock()
	v.keys, v.fetched = keys, v.clock()
	v.mu.Unlock()
	return nil
}

func rsaKey(k jwk) (any, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
}

func (v *Verifier) clock() time.Time {
	if v.now != nil {
		return v.now()
	}
	return time.Now()
}
