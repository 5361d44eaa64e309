package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/animora/animora/internal/api/handler"
	"github.com/animora/animora/internal/email"
	"github.com/animora/animora/internal/identity"
	"github.com/animora/animora/internal/oauth"
	"github.com/animora/animora/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── Fakes ────────────────────────────────────────────────────────────────

type discardMailer struct {
	mu   sync.Mutex
	sent []email.Message
}

func (d *discardMailer) Dispatch(msg email.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
}

type fakeGoogle struct {
	profile *oauth.Profile
	err     error
}

func (f *fakeGoogle) AuthCodeURL(context.Context) (string, error) {
	return "https://accounts.google.test/auth?state=abc", nil
}

func (f *fakeGoogle) Exchange(_ context.Context, code, state string) (*oauth.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if code == "" || state == "" {
		return nil, oauth.ErrInvalidState
	}
	return f.profile, nil
}

// ── Harness ──────────────────────────────────────────────────────────────

type testServer struct {
	router *gin.Engine
	tokens *identity.UserTokenIssuer
	svc    *users.UserService
	store  *users.MemoryStore
}

func newTestServer(t *testing.T, devMode bool, google *fakeGoogle) *testServer {
	t.Helper()

	keys := identity.NewKeyManager("")
	if err := keys.LoadOrCreate(); err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	tokens := identity.NewUserTokenIssuer(keys, "https://api.animora.test")

	store := users.NewMemoryStore()
	svc := users.NewUserService(store, users.NewPasswordHasher(4), tokens, &discardMailer{}, zap.NewNop())
	svc.SetDevelopmentMode(devMode)
	svc.SetFrontendURL("https://animora.test")

	auth := handler.NewAuthHandler(svc, tokens, zap.NewNop())
	auth.SetDevelopmentMode(devMode)
	auth.SetFrontendURL("https://animora.test/")
	if google != nil {
		auth.SetOAuthProvider(google)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router := handler.NewRouter(ctx, handler.RouterConfig{
		Auth:        auth,
		Tokens:      tokens,
		CORSOrigins: []string{"https://animora.test"},
		Logger:      zap.NewNop(),
	})
	return &testServer{router: router, tokens: tokens, svc: svc, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, isRaw := body.(string); isRaw {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func (s *testServer) registerAndVerify(t *testing.T, emailAddr, username, password string) string {
	t.Helper()
	w, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": emailAddr, "password": password, "name": "Test User", "username": username,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %v", w.Code, body)
	}
	code, _ := body["devCode"].(string)
	w, body = s.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{
		"email": emailAddr, "code": code,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: status %d body %v", w.Code, body)
	}
	token, _ := body["token"].(string)
	return token
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestRegister_devModeEchoesCode(t *testing.T) {
	s := newTestServer(t, true, nil)
	w, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "Jo@Example.com", "password": "secret1", "name": "Jo", "username": "jo",
	})
	wantStatus(t, w, http.StatusCreated)

	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	if body["email"] != "jo@example.com" {
		t.Errorf("email = %v, want normalized", body["email"])
	}
	if body["requiresVerification"] != true {
		t.Errorf("requiresVerification = %v", body["requiresVerification"])
	}
	code, _ := body["devCode"].(string)
	if len(code) != 6 {
		t.Errorf("devCode = %q, want 6 digits", code)
	}
}

func TestRegister_productionHidesCode(t *testing.T) {
	s := newTestServer(t, false, nil)
	w, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "jo@example.com", "password": "secret1", "name": "Jo", "username": "jo",
	})
	wantStatus(t, w, http.StatusCreated)
	if _, present := body["devCode"]; present {
		t.Error("devCode must not be returned outside development mode")
	}
}

func TestRegister_errors(t *testing.T) {
	s := newTestServer(t, true, nil)
	s.registerAndVerify(t, "jo@example.com", "jo", "secret1")

	cases := []struct {
		name    string
		body    any
		message string
	}{
		{"missing fields", map[string]string{"email": "a@example.com"}, "Please provide all required fields"},
		{"admin role", map[string]string{"email": "a@example.com", "password": "secret1", "name": "A", "username": "a", "role": "admin"}, "Role must be either client or owner"},
		{"duplicate email", map[string]string{"email": "JO@example.com", "password": "secret1", "name": "A", "username": "other"}, "Email already registered"},
		{"duplicate username", map[string]string{"email": "new@example.com", "password": "secret1", "name": "A", "username": "jo"}, "Username already taken"},
		{"malformed json", "{not json", "Invalid request body"},
		{"malformed email", map[string]string{"email": "not an email", "password": "secret1", "name": "A", "username": "a"}, "Please provide a valid email address"},
		{"username with at", map[string]string{"email": "a@example.com", "password": "secret1", "name": "A", "username": "a@example.com"}, "Username must not contain @"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := s.do(t, http.MethodPost, "/api/auth/register", "", tc.body)
			wantStatus(t, w, http.StatusBadRequest)
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
			if body["message"] != tc.message {
				t.Errorf("message = %v, want %q", body["message"], tc.message)
			}
		})
	}
}

func TestLogin_identifierVariants(t *testing.T) {
	s := newTestServer(t, true, nil)
	s.registerAndVerify(t, "jo@example.com", "jo", "secret1")

	for _, body := range []map[string]string{
		{"identifier": "jo@example.com", "password": "secret1"},
		{"identifier": "jo", "password": "secret1"},
		{"email": "JO@example.com", "password": "secret1"},
		{"username": "jo", "password": "secret1"},
	} {
		w, out := s.do(t, http.MethodPost, "/api/auth/login", "", body)
		wantStatus(t, w, http.StatusOK)
		if out["message"] != "Login successful" {
			t.Errorf("message = %v", out["message"])
		}
		token, _ := out["token"].(string)
		claims, err := s.tokens.Verify(token)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if claims.Email != "jo@example.com" || claims.Role != "client" {
			t.Errorf("claims = %+v", claims)
		}
		user, _ := out["user"].(map[string]any)
		if _, leaked := user["password_hash"]; leaked {
			t.Error("public user leaked password hash")
		}
	}
}

func TestLogin_invalidCredentialsIndistinguishable(t *testing.T) {
	s := newTestServer(t, true, nil)
	s.registerAndVerify(t, "jo@example.com", "jo", "secret1")

	wrongPass, b1 := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"identifier": "jo", "password": "nope123"})
	unknown, b2 := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"identifier": "ghost", "password": "nope123"})

	wantStatus(t, wrongPass, http.StatusUnauthorized)
	wantStatus(t, unknown, http.StatusUnauthorized)
	if b1["message"] != b2["message"] {
		t.Errorf("messages differ: %v vs %v", b1["message"], b2["message"])
	}
}

func TestVerifyEmail_wrongCode(t *testing.T) {
	s := newTestServer(t, true, nil)
	w, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "jo@example.com", "password": "secret1", "name": "Jo", "username": "jo",
	})
	wantStatus(t, w, http.StatusCreated)
	code, _ := body["devCode"].(string)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	w, body = s.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"email": "jo@example.com", "code": wrong})
	wantStatus(t, w, http.StatusBadRequest)
	if body["message"] != "Invalid verification code" {
		t.Errorf("message = %v", body["message"])
	}

	w, _ = s.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"email": "ghost@example.com", "code": code})
	wantStatus(t, w, http.StatusNotFound)
}

func TestResendCode(t *testing.T) {
	s := newTestServer(t, true, nil)
	w, _ := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "jo@example.com", "password": "secret1", "name": "Jo", "username": "jo",
	})
	wantStatus(t, w, http.StatusCreated)

	w, body := s.do(t, http.MethodPost, "/api/auth/resend-code", "", map[string]string{"email": "jo@example.com"})
	wantStatus(t, w, http.StatusOK)
	if body["message"] != "Verification code sent" {
		t.Errorf("message = %v", body["message"])
	}
	code, _ := body["devCode"].(string)

	w, _ = s.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"email": "jo@example.com", "code": code})
	wantStatus(t, w, http.StatusOK)

	w, body = s.do(t, http.MethodPost, "/api/auth/resend-code", "", map[string]string{"email": "jo@example.com"})
	wantStatus(t, w, http.StatusBadRequest)
	if body["message"] != "Email already verified" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	s := newTestServer(t, true, nil)
	s.registerAndVerify(t, "jo@example.com", "jo", "secret1")

	w, unknown := s.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "ghost@example.com"})
	wantStatus(t, w, http.StatusOK)
	if _, present := unknown["devToken"]; present {
		t.Error("unknown email must not produce a dev token")
	}

	w, body := s.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "jo@example.com"})
	wantStatus(t, w, http.StatusOK)
	if body["message"] != unknown["message"] {
		t.Errorf("forgot-password messages differ: %v vs %v", body["message"], unknown["message"])
	}
	token, _ := body["devToken"].(string)
	resetURL, _ := body["devResetUrl"].(string)
	if token == "" || !strings.HasPrefix(resetURL, "https://animora.test/") || !strings.Contains(resetURL, token) {
		t.Fatalf("devToken = %q devResetUrl = %q", token, resetURL)
	}

	w, body = s.do(t, http.MethodPost, "/api/auth/reset-password/"+token, "", map[string]string{"password": "newpass1"})
	wantStatus(t, w, http.StatusOK)
	if body["message"] != "Password reset successful" {
		t.Errorf("message = %v", body["message"])
	}

	w, _ = s.do(t, http.MethodPost, "/api/auth/reset-password/"+token, "", map[string]string{"newPassword": "again12"})
	wantStatus(t, w, http.StatusBadRequest)

	w, _ = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"identifier": "jo", "password": "newpass1"})
	wantStatus(t, w, http.StatusOK)
}

func TestBearerRoutes_requireToken(t *testing.T) {
	s := newTestServer(t, true, nil)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodPost, "/api/auth/complete-google-profile"},
		{http.MethodPut, "/api/auth/change-password"},
		{http.MethodDelete, "/api/auth/delete-account"},
	}
	for _, r := range routes {
		w, body := s.do(t, r.method, r.path, "", nil)
		wantStatus(t, w, http.StatusUnauthorized)
		if body["message"] != "Not authorized, no token" {
			t.Errorf("%s %s: message = %v", r.method, r.path, body["message"])
		}

		w, body = s.do(t, r.method, r.path, "garbage", nil)
		wantStatus(t, w, http.StatusUnauthorized)
		if body["message"] != "Not authorized, token failed" {
			t.Errorf("%s %s: message = %v", r.method, r.path, body["message"])
		}
	}
}

func TestMeChangePasswordDelete(t *testing.T) {
	s := newTestServer(t, true, nil)
	token := s.registerAndVerify(t, "jo@example.com", "jo", "secret1")

	w, body := s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	wantStatus(t, w, http.StatusOK)
	user, _ := body["user"].(map[string]any)
	if user["email"] != "jo@example.com" || user["isVerified"] != true {
		t.Errorf("user = %v", user)
	}

	w, _ = s.do(t, http.MethodPut, "/api/auth/change-password", token, map[string]string{
		"currentPassword": "wrong12", "newPassword": "newpass1",
	})
	wantStatus(t, w, http.StatusUnauthorized)

	w, body = s.do(t, http.MethodPut, "/api/auth/change-password", token, map[string]string{
		"currentPassword": "secret1", "newPassword": "newpass1",
	})
	wantStatus(t, w, http.StatusOK)
	if body["message"] != "Password changed successfully" {
		t.Errorf("message = %v", body["message"])
	}

	w, body = s.do(t, http.MethodDelete, "/api/auth/delete-account", token, nil)
	wantStatus(t, w, http.StatusOK)
	if body["message"] != "Account deleted successfully" {
		t.Errorf("message = %v", body["message"])
	}
	if s.store.Len() != 0 {
		t.Errorf("store has %d users after delete", s.store.Len())
	}

	w, _ = s.do(t, http.MethodDelete, "/api/auth/delete-account", token, nil)
	wantStatus(t, w, http.StatusNotFound)
	w, _ = s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	wantStatus(t, w, http.StatusNotFound)
}

func TestGoogleCallback_newUserThenCompleteProfile(t *testing.T) {
	google := &fakeGoogle{profile: &oauth.Profile{
		Provider:      oauth.ProviderGoogle,
		ProviderID:    "g-123",
		Email:         "pet.lover@gmail.com",
		EmailVerified: true,
		Name:          "Pet Lover",
		AvatarURL:     "https://lh3.googleusercontent.test/a.png",
	}}
	s := newTestServer(t, true, google)

	w, _ := s.do(t, http.MethodGet, "/api/auth/auth/google", "", nil)
	wantStatus(t, w, http.StatusFound)
	if !strings.HasPrefix(w.Header().Get("Location"), "https://accounts.google.test/") {
		t.Errorf("Location = %q", w.Header().Get("Location"))
	}

	w, _ = s.do(t, http.MethodGet, "/api/auth/auth/google/callback?code=c&state=s", "", nil)
	wantStatus(t, w, http.StatusFound)
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if loc.Host != "animora.test" || loc.Path != "/oauth-success" {
		t.Fatalf("Location = %s", loc)
	}
	q := loc.Query()
	if q.Get("isNewUser") != "true" {
		t.Errorf("isNewUser = %q, want true", q.Get("isNewUser"))
	}
	var user map[string]any
	if err := json.Unmarshal([]byte(q.Get("user")), &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user["username"] != "google_g-123" || user["profileCompleted"] != false || user["hasLocalPassword"] != false {
		t.Errorf("user = %v", user)
	}
	token := q.Get("token")

	w, body := s.do(t, http.MethodPut, "/api/auth/change-password", token, map[string]string{
		"currentPassword": "whatever", "newPassword": "newpass1",
	})
	wantStatus(t, w, http.StatusBadRequest)
	if body["message"] != "This account uses Google sign-in and has no password to change" {
		t.Errorf("message = %v", body["message"])
	}

	w, body = s.do(t, http.MethodPost, "/api/auth/complete-google-profile", token, map[string]string{
		"username": "petlover", "role": "owner",
	})
	wantStatus(t, w, http.StatusOK)
	fresh, _ := body["token"].(string)
	claims, err := s.tokens.Verify(fresh)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Role != "owner" {
		t.Errorf("role claim = %q, want owner", claims.Role)
	}

	w, body = s.do(t, http.MethodPost, "/api/auth/complete-google-profile", fresh, map[string]string{
		"username": "petlover2", "role": "client",
	})
	wantStatus(t, w, http.StatusBadRequest)
	if body["message"] != "Profile already completed" {
		t.Errorf("message = %v", body["message"])
	}

	w, _ = s.do(t, http.MethodGet, "/api/auth/auth/google/callback?code=c&state=s", "", nil)
	wantStatus(t, w, http.StatusFound)
	loc, _ = url.Parse(w.Header().Get("Location"))
	if loc.Query().Get("isNewUser") != "false" {
		t.Errorf("second sign-in isNewUser = %q, want false", loc.Query().Get("isNewUser"))
	}
}

func TestGoogleCallback_failureRedirects(t *testing.T) {
	cases := map[string]struct {
		google *fakeGoogle
		query  string
	}{
		"not configured": {nil, "?code=c&state=s"},
		"consent denied": {&fakeGoogle{}, "?error=access_denied"},
		"bad state":      {&fakeGoogle{}, "?code=c"},
		"exchange error": {&fakeGoogle{err: errors.New("boom")}, "?code=c&state=s"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, true, tc.google)
			w, _ := s.do(t, http.MethodGet, "/api/auth/auth/google/callback"+tc.query, "", nil)
			wantStatus(t, w, http.StatusFound)
			if got := w.Header().Get("Location"); got != "https://animora.test/login?error=oauth_failed" {
				t.Errorf("Location = %q", got)
			}
		})
	}
}

func TestMalformedEmailRejected(t *testing.T) {
	s := newTestServer(t, true, nil)
	for _, path := range []string{"/api/auth/resend-code", "/api/auth/forgot-password", "/api/auth/verify-email"} {
		w, body := s.do(t, http.MethodPost, path, "", map[string]string{"email": "nope", "code": "123456"})
		wantStatus(t, w, http.StatusBadRequest)
		if body["message"] != "Please provide a valid email address" {
			t.Errorf("%s: message = %v", path, body["message"])
		}
	}
	if s.store.Len() != 0 {
		t.Errorf("store has %d users", s.store.Len())
	}
}

func TestGoogleCallback_unverifiedEmailDoesNotLink(t *testing.T) {
	google := &fakeGoogle{profile: &oauth.Profile{
		Provider:      oauth.ProviderGoogle,
		ProviderID:    "attacker-1",
		Email:         "victim@example.com",
		EmailVerified: false,
		Name:          "Not The Victim",
	}}
	s := newTestServer(t, true, google)

	w, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "victim@example.com", "password": "secret1", "name": "Victim", "username": "victim",
	})
	wantStatus(t, w, http.StatusCreated)
	userID, _ := body["userId"].(string)

	w, _ = s.do(t, http.MethodGet, "/api/auth/auth/google/callback?code=c&state=s", "", nil)
	wantStatus(t, w, http.StatusFound)
	if got := w.Header().Get("Location"); got != "https://animora.test/login?error=oauth_failed" {
		t.Errorf("Location = %q", got)
	}

	u, err := s.store.GetByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if u.IsVerified || u.GoogleID != "" {
		t.Errorf("account was modified: verified=%v googleID=%q", u.IsVerified, u.GoogleID)
	}
}

func TestErrorCause_onlyInDevelopment(t *testing.T) {
	for _, dev := range []bool{true, false} {
		s := newTestServer(t, dev, nil)
		_, body := s.do(t, http.MethodPost, "/api/auth/login", "", "{broken")
		_, has := body["error"]
		if has != dev {
			t.Errorf("devMode=%v: error field present = %v", dev, has)
		}
	}
}

func TestInfraRoutes(t *testing.T) {
	s := newTestServer(t, false, nil)

	w, _ := s.do(t, http.MethodGet, "/healthz", "", nil)
	wantStatus(t, w, http.StatusOK)

	w, _ = s.do(t, http.MethodGet, "/readyz", "", nil)
	wantStatus(t, w, http.StatusOK)

	w, body := s.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	wantStatus(t, w, http.StatusOK)
	if keys, _ := body["keys"].([]any); len(keys) != 1 {
		t.Errorf("jwks keys = %v", body["keys"])
	}

	w, _ = s.do(t, http.MethodGet, "/metrics", "", nil)
	wantStatus(t, w, http.StatusOK)

	w, body = s.do(t, http.MethodGet, "/api/auth/nope", "", nil)
	wantStatus(t, w, http.StatusNotFound)
	if body["success"] != false {
		t.Errorf("success = %v", body["success"])
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
}
