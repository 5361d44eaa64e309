package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/animora/animora/internal/api/handler"
	"github.com/animora/animora/internal/email"
	"github.com/animora/animora/internal/identity"
	"github.com/animora/animora/internal/users"
	"github.com/animora/animora/pkg/client"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopMailer struct{}

func (nopMailer) Dispatch(email.Message) {}

// newAnimoraServer runs the real router over an in-memory store in development mode.
func newAnimoraServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	keys := identity.NewKeyManager("")
	require.NoError(t, keys.LoadOrCreate())
	tokens := identity.NewUserTokenIssuer(keys, "https://api.animora.test")

	svc := users.NewUserService(users.NewMemoryStore(), users.NewPasswordHasher(4), tokens, nopMailer{}, zap.NewNop())
	svc.SetDevelopmentMode(true)

	auth := handler.NewAuthHandler(svc, tokens, zap.NewNop())
	auth.SetDevelopmentMode(true)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(handler.NewRouter(ctx, handler.RouterConfig{
		Auth:   auth,
		Tokens: tokens,
		Logger: zap.NewNop(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_rejectsBadBaseURL(t *testing.T) {
	_, err := client.New("not a url")
	assert.Error(t, err)

	_, err = client.New("http://localhost:5000/", client.WithHTTPClient(nil))
	assert.Error(t, err)

	c, err := client.New("http://localhost:5000/", client.WithBearerToken("tok"))
	require.NoError(t, err)
	assert.Equal(t, "tok", c.Token())
}

func TestAuthenticatedCallWithoutToken(t *testing.T) {
	c := client.MustNew("http://127.0.0.1:1")
	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, client.ErrNoToken)
}

func TestAPIError_decodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "Email already registered",
			"error":   "duplicate key",
		})
	}))
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.Register(context.Background(), client.RegisterRequest{Email: "a@b.c"})

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Email already registered", apiErr.Message)
	assert.Equal(t, "duplicate key", apiErr.Cause)
}

func TestAPIError_nonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := client.MustNew(srv.URL).ForgotPassword(context.Background(), "a@b.c")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestAccountLifecycle(t *testing.T) {
	srv := newAnimoraServer(t)
	ctx := context.Background()
	c := client.MustNew(srv.URL)

	reg, err := c.Register(ctx, client.RegisterRequest{
		Email:    "Jo@Example.com",
		Password: "secret1",
		Name:     "Jo",
		Username: "jo",
		Role:     "owner",
	})
	require.NoError(t, err)
	assert.Equal(t, "jo@example.com", reg.Email)
	assert.True(t, reg.RequiresVerification)
	require.Len(t, reg.DevCode, 6)

	resent, err := c.ResendCode(ctx, reg.Email)
	require.NoError(t, err)
	require.NotEmpty(t, resent.DevCode)

	_, err = c.VerifyEmail(ctx, reg.Email, reg.DevCode)
	if reg.DevCode != resent.DevCode {
		var apiErr *client.APIError
		require.True(t, errors.As(err, &apiErr), "stale code must be rejected")
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	}

	auth, err := c.VerifyEmail(ctx, reg.Email, resent.DevCode)
	require.NoError(t, err)
	assert.NotEmpty(t, auth.Token)
	assert.Equal(t, auth.Token, c.Token())
	assert.True(t, auth.User.IsVerified)
	assert.Equal(t, "owner", auth.User.Role)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, me.ID)
	assert.True(t, me.HasLocalPassword)

	require.NoError(t, c.ChangePassword(ctx, "secret1", "secret2"))

	forgot, err := c.ForgotPassword(ctx, reg.Email)
	require.NoError(t, err)
	require.NotEmpty(t, forgot.DevToken)
	require.NoError(t, c.ResetPassword(ctx, forgot.DevToken, "secret3"))

	other := client.MustNew(srv.URL)
	_, err = other.Login(ctx, "jo", "secret2")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	logged, err := other.Login(ctx, "jo@example.com", "secret3")
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, logged.User.ID)

	require.NoError(t, other.DeleteAccount(ctx))
	assert.Empty(t, other.Token())

	_, err = c.Me(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
