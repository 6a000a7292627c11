package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, m jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(m, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestDevTokens(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	p, err := v.Verify("t1:Planner")
	if err != nil || p.Tenant != "t1" || p.Role != RolePlanner {
		t.Fatalf("dev token: %+v %v", p, err)
	}
	if p, _ := v.Verify("t1:captain"); p.Role != RoleViewer {
		t.Fatalf("unknown role should map to viewer: %+v", p)
	}
	if _, err := v.Verify("nocolon"); err == nil {
		t.Fatal("expected error")
	}
}

func TestHMACTokens(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	secret := []byte("s3cret")
	v := &Verifier{Mode: "hmac", HMACSecret: secret, TenantClaim: "tenant", RoleClaim: "role", now: func() time.Time { return now }}
	p, err := v.Verify(sign(t, jwt.SigningMethodHS256, secret, "", jwt.MapClaims{"tenant": "t9", "role": "admin", "exp": now.Add(time.Hour).Unix()}))
	if err != nil || p.Tenant != "t9" || p.Role != RoleAdmin {
		t.Fatalf("verify: %+v %v", p, err)
	}
	if _, err := v.Verify(sign(t, jwt.SigningMethodHS256, []byte("other"), "", jwt.MapClaims{"tenant": "t9"})); err == nil {
		t.Fatal("bad signature accepted")
	}
	if _, err := v.Verify(sign(t, jwt.SigningMethodHS256, secret, "", jwt.MapClaims{"tenant": "t9", "exp": now.Add(-time.Minute).Unix()})); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expired token: %v", err)
	}
	if _, err := v.Verify(sign(t, jwt.SigningMethodHS256, secret, "", jwt.MapClaims{"role": "admin"})); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("token without tenant: %v", err)
	}
	if _, err := v.Verify(sign(t, jwt.SigningMethodHS512, secret, "", jwt.MapClaims{"tenant": "t9"})); err == nil {
		t.Fatal("HS512 accepted in hmac mode")
	}
}

func TestJWKSTokens(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	fetches := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA", "kid": "k1",
			"n": base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer ts.Close()

	v := &Verifier{Mode: "jwks", JWKSURL: ts.URL, TenantClaim: "tenant", RoleClaim: "role", cacheTTL: time.Hour}
	for range 2 {
		p, err := v.Verify(sign(t, jwt.SigningMethodRS256, key, "k1", jwt.MapClaims{"tenant": "t3", "role": "operator"}))
		if err != nil || p.Tenant != "t3" || p.Role != RolePlanner {
			t.Fatalf("verify: %+v %v", p, err)
		}
	}
	if fetches != 1 {
		t.Fatalf("key set should be cached, fetched %d times", fetches)
	}
	if _, err := v.Verify(sign(t, jwt.SigningMethodRS256, key, "k2", jwt.MapClaims{"tenant": "t3"})); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("unknown kid: %v", err)
	}
}
