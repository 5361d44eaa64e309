package identity_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animora/animora/internal/identity"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testIssuer = "https://api.animora.test"

func newTestKeys(t *testing.T) *identity.KeyManager {
	t.Helper()
	km := identity.NewKeyManager("")
	if err := km.LoadOrCreate(); err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	return km
}

func TestKeyManager_LoadOrCreate_persists(t *testing.T) {
	dir := t.TempDir()
	km1 := identity.NewKeyManager(dir)
	if err := km1.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dir, "signing.key"))
	if err != nil {
		t.Fatalf("expected signing.key on disk: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	km2 := identity.NewKeyManager(dir)
	if err := km2.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	if km1.KeyID() != km2.KeyID() {
		t.Errorf("LoadOrCreate created a new key on the second call (%s → %s)", km1.KeyID(), km2.KeyID())
	}
}

func TestUserTokenIssuer_roundTrip(t *testing.T) {
	km := newTestKeys(t)
	ti := identity.NewUserTokenIssuer(km, testIssuer)

	tok, err := ti.Issue("user-1", "a@x.com", "owner")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if parts := strings.Split(tok, "."); len(parts) != 3 {
		t.Fatalf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := ti.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@x.com" || claims.Role != "owner" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != 7*24*time.Hour {
		t.Errorf("expected 7 day ttl, got %v", ttl)
	}
}

func TestUserTokenIssuer_kidHeader(t *testing.T) {
	km := newTestKeys(t)
	ti := identity.NewUserTokenIssuer(km, testIssuer)
	tok, _ := ti.Issue("user-1", "a@x.com", "client")

	parsed, _, err := jwt.NewParser().ParseUnverified(tok, &identity.UserTokenClaims{})
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Header["kid"] != km.KeyID() {
		t.Errorf("kid: got %v, want %s", parsed.Header["kid"], km.KeyID())
	}
}

func TestUserTokenIssuer_expired(t *testing.T) {
	km := newTestKeys(t)
	ti := identity.NewUserTokenIssuer(km, testIssuer)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ti.SetClock(func() time.Time { return now })
	tok, err := ti.Issue("user-1", "a@x.com", "client")
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(7*24*time.Hour + time.Minute)
	if _, err := ti.Verify(tok); !errors.Is(err, identity.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestUserTokenIssuer_wrongKey(t *testing.T) {
	a := identity.NewUserTokenIssuer(newTestKeys(t), testIssuer)
	b := identity.NewUserTokenIssuer(newTestKeys(t), testIssuer)

	tok, _ := a.Issue("user-1", "a@x.com", "client")
	if _, err := b.Verify(tok); err == nil {
		t.Error("expected error verifying token signed by another key")
	}
}

func TestUserTokenIssuer_wrongIssuer(t *testing.T) {
	km := newTestKeys(t)
	a := identity.NewUserTokenIssuer(km, testIssuer)
	b := identity.NewUserTokenIssuer(km, "https://evil.test")

	tok, _ := a.Issue("user-1", "a@x.com", "client")
	if _, err := b.Verify(tok); err == nil {
		t.Error("expected error for mismatched issuer")
	}
}

func TestUserTokenIssuer_rejectsHS256(t *testing.T) {
	ti := identity.NewUserTokenIssuer(newTestKeys(t), testIssuer)

	claims := identity.UserTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "user-1",
		Type:   "user",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(tok); err == nil {
		t.Error("expected HS256 token to be rejected")
	}
}

func TestJWKSHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	km := newTestKeys(t)
	ti := identity.NewUserTokenIssuer(km, testIssuer)

	r := gin.New()
	r.GET("/.well-known/jwks.json", identity.JWKSHandler(ti))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var set identity.JWKSet
	if err := json.Unmarshal(w.Body.Bytes(), &set); err != nil {
		t.Fatal(err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(set.Keys))
	}
	k := set.Keys[0]
	if k.Kty != "RSA" || k.Alg != "RS256" || k.Kid != km.KeyID() {
		t.Errorf("unexpected jwk: %+v", k)
	}
	if k.E != "AQAB" {
		t.Errorf("expected exponent AQAB, got %s", k.E)
	}
}

func TestRequireUserToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ti := identity.NewUserTokenIssuer(newTestKeys(t), testIssuer)

	r := gin.New()
	r.GET("/me", identity.RequireUserToken(ti), func(c *gin.Context) {
		claims := identity.UserClaimsFromCtx(c)
		c.String(http.StatusOK, claims.UserID)
	})

	good, _ := ti.Issue("user-7", "a@x.com", "client")

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"valid", "Bearer " + good, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			if tc.want == http.StatusOK && w.Body.String() != "user-7" {
				t.Errorf("expected claims in context, got %q", w.Body.String())
			}
		})
	}
}
