package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/animora/animora/internal/identity"
	"github.com/animora/animora/internal/oauth"
	"github.com/animora/animora/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// userSvc is the interface expected by AuthHandler, satisfied by *users.UserService.
type userSvc interface {
	Register(ctx context.Context, in users.RegisterInput) (*users.RegisterResult, error)
	Login(ctx context.Context, identifier, password string) (*users.AuthResult, error)
	VerifyEmail(ctx context.Context, email, code string) (*users.AuthResult, error)
	ResendCode(ctx context.Context, email string) (string, error)
	ForgotPassword(ctx context.Context, email string) (*users.ForgotPasswordResult, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	ReconcileOAuth(ctx context.Context, p users.OAuthProfile) (*users.OAuthResult, error)
	CompleteOAuthProfile(ctx context.Context, userID, username, role string) (*users.AuthResult, error)
	Me(ctx context.Context, userID string) (*users.User, error)
	DeleteAccount(ctx context.Context, userID string) error
}

// oauthProvider runs the browser handshake with a federated identity provider.
type oauthProvider interface {
	AuthCodeURL(ctx context.Context) (string, error)
	Exchange(ctx context.Context, code, state string) (*oauth.Profile, error)
}

// AuthHandler handles the account routes mounted under /api/auth.
type AuthHandler struct {
	users       userSvc
	tokens      *identity.UserTokenIssuer
	google      oauthProvider
	frontendURL string // OAuth callback redirects land here
	devMode     bool
	logger      *zap.Logger
}

// NewAuthHandler creates an AuthHandler. Google sign-in stays disabled until
// SetOAuthProvider is called.
func NewAuthHandler(userSvc userSvc, tokens *identity.UserTokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		users:       userSvc,
		tokens:      tokens,
		frontendURL: "http://localhost:3000",
		logger:      logger,
	}
}

// SetFrontendURL sets the base URL of the frontend for OAuth callback redirects.
func (h *AuthHandler) SetFrontendURL(u string) {
	h.frontendURL = strings.TrimRight(u, "/")
}

// SetDevelopmentMode echoes error causes in failure bodies when on.
func (h *AuthHandler) SetDevelopmentMode(on bool) {
	h.devMode = on
}

// SetOAuthProvider enables the Google sign-in routes.
func (h *AuthHandler) SetOAuthProvider(p oauthProvider) {
	h.google = p
}

// Register mounts all auth routes on the provided router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	bearer := identity.RequireUserToken(h.tokens)

	auth := rg.Group("/auth")
	{
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)
		auth.POST("/verify-email", h.VerifyEmail)
		auth.POST("/resend-code", h.ResendCode)
		auth.POST("/forgot-password", h.ForgotPassword)
		auth.POST("/reset-password/:token", h.ResetPassword)

		auth.GET("/me", bearer, h.Me)
		auth.POST("/complete-google-profile", bearer, h.CompleteGoogleProfile)
		auth.PUT("/change-password", bearer, h.ChangePassword)
		auth.DELETE("/delete-account", bearer, h.DeleteAccount)

		auth.GET("/auth/google", h.GoogleRedirect)
		auth.GET("/auth/google/callback", h.GoogleCallback)
	}
}

// ─── Request types ───────────────────────────────────────────────────────────

type registerRequest struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"     binding:"required"`
	Username string `json:"username" binding:"required"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// identifier prefers the explicit field, then email, then username.
func (r loginRequest) identifier() string {
	for _, v := range []string{r.Identifier, r.Email, r.Username} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type verifyEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code"  binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type completeProfileRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// bind decodes and validates the JSON body into dst and writes a 400 on failure.
func (h *AuthHandler) bind(c *gin.Context, op string, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		RecordAuthEvent(op, users.KindValidation.String())
		body := gin.H{"success": false, "message": bindMessage(err)}
		if h.devMode {
			body["error"] = err.Error()
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, body)
		return false
	}
	return true
}

// bindMessage picks the client-facing message for a binding failure.
func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body"
	}
	for _, fe := range verrs {
		if fe.Tag() == "email" {
			return "Please provide a valid email address"
		}
	}
	return "Please provide all required fields"
}

// callerID returns the user id from the bearer claims.
func callerID(c *gin.Context) string {
	if claims := identity.UserClaimsFromCtx(c); claims != nil {
		return claims.UserID
	}
	return ""
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// RegisterUser handles POST /auth/register.
func (h *AuthHandler) RegisterUser(c *gin.Context) {
	const op = "register"
	var req registerRequest
	if !h.bind(c, op, &req) {
		return
	}

	res, err := h.users.Register(c.Request.Context(), users.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Username: req.Username,
		Role:     req.Role,
		Phone:    req.Phone,
		Address:  req.Address,
	})
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	RecordAuthEvent(op, "success")

	payload := gin.H{
		"userId":               res.UserID,
		"email":                res.Email,
		"requiresVerification": res.RequiresVerification,
	}
	if res.DevCode != "" {
		payload["devCode"] = res.DevCode
	}
	ok(c, http.StatusCreated, "Registration successful. Please check your email for the verification code.", payload)
}

// Login handles POST /auth/login with an email or username identifier.
func (h *AuthHandler) Login(c *gin.Context) {
	const op = "login"
	var req loginRequest
	if !h.bind(c, op, &req) {
		return
	}

	res, err := h.users.Login(c.Request.Context(), req.identifier(), req.Password)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	RecordAuthEvent(op, "success")
	ok(c, http.StatusOK, "Login successful", gin.H{"token": res.Token, "user": res.User.Public()})
}

// VerifyEmail handles POST /auth/verify-email.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	const op = "verify_email"
	var req verifyEmailRequest
	if !h.bind(c, op, &req) {
		return
	}

	res, err := h.users.VerifyEmail(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	RecordAuthEvent(op, "success")
	ok(c, http.StatusOK, "Email verified successfully", gin.H{"token": res.Token, "user": res.User.Public()})
}

// ResendCode handles POST /auth/resend-code.
func (h *AuthHandler) ResendCode(c *gin.Context) {
	const op = "resend_code"
	var req emailRequest
	if !h.bind(c, op, &req) {
		return
	}

	devCode, err := h.users.ResendCode(c.Request.Context(), req.Email)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	RecordAuthEvent(op, "success")

	payload := gin.H{}
	if devCode != "" {
		payload["devCode"] = devCode
	}
	ok(c, http.StatusOK, "Verification code sent", payload)
}

// ForgotPassword handles POST /auth/forgot-password. The response never
// reveals whether the email is registered.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	const op = "forgot_password"
	var req emailRequest
	if !h.bind(c, op, &req) {
		return
	}

	res, err := h.users.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	RecordAuthEvent(op, "success")

	payload := gin.H{}
	if res != nil && res.DevToken != "" {
		payload["devToken"] = res.DevToken
		payload["devResetUrl"] = res.DevResetURL
	}
	ok(c, http.StatusOK, "If an account with that email exists, a password reset link has been sent", payload)
}

// ResetPassword handles POST /auth/reset-password/:token.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	const op = "reset_password"
	var req resetPasswordRequest
	if !h.bind(c, op, &req) {
		return
	}
	password := req.Password
	if password == "" {
		password = req.NewPassword
	}

	if err := h.users.ResetPassword(c.Request.Context(), c.Param("token"), password); err != nil {
		h.writeError(c, op, err)
		return
	}
	RecordAuthEvent(op, "success")
	ok(c, http.StatusOK, "Password reset successful", nil)
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	const op = "me"
	u, err := h.users.Me(c.Request.Context(), callerID(c))
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	ok(c, http.StatusOK, "", gin.H{"user": u.Public()})
}

// CompleteGoogleProfile handles POST /auth/complete-google-profile.
func (h *AuthHandler) CompleteGoogleProfile(c *gin.Context) {
	const op = "complete_profile"
	var req completeProfileRequest
	if !h.bind(c, op, &req) {
		return
	}

	res, err := h.users.CompleteOAuthProfile(c.Request.Context(), callerID(c), req.Username, req.Role)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	RecordAuthEvent(op, "success")
	ok(c, http.StatusOK, "Profile completed", gin.H{"token": res.Token, "user": res.User.Public()})
}

// ChangePassword handles PUT /auth/change-password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	const op = "change_password"
	var req changePasswordRequest
	if !h.bind(c, op, &req) {
		return
	}

	if err := h.users.ChangePassword(c.Request.Context(), callerID(c), req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(c, op, err)
		return
	}
	RecordAuthEvent(op, "success")
	ok(c, http.StatusOK, "Password changed successfully", nil)
}

// DeleteAccount handles DELETE /auth/delete-account.
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	const op = "delete_account"
	if err := h.users.DeleteAccount(c.Request.Context(), callerID(c)); err != nil {
		h.writeError(c, op, err)
		return
	}
	RecordAuthEvent(op, "success")
	ok(c, http.StatusOK, "Account deleted successfully", nil)
}

// GoogleRedirect handles GET /auth/auth/google and sends the browser to the
// Google consent screen.
func (h *AuthHandler) GoogleRedirect(c *gin.Context) {
	if h.google == nil {
		h.oauthFailed(c, "google sign-in not configured", nil)
		return
	}
	target, err := h.google.AuthCodeURL(c.Request.Context())
	if err != nil {
		h.oauthFailed(c, "build google auth url", err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

// GoogleCallback handles GET /auth/auth/google/callback. Every failure lands
// on the frontend login page rather than a JSON body.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	const op = "oauth_google"
	if h.google == nil {
		h.oauthFailed(c, "google sign-in not configured", nil)
		return
	}
	if e := c.Query("error"); e != "" {
		h.oauthFailed(c, "google denied consent", nil, zap.String("reason", e))
		return
	}

	profile, err := h.google.Exchange(c.Request.Context(), c.Query("code"), c.Query("state"))
	if err != nil {
		h.oauthFailed(c, "google exchange", err)
		return
	}

	res, err := h.users.ReconcileOAuth(c.Request.Context(), users.OAuthProfile{
		Provider:      profile.Provider,
		ProviderID:    profile.ProviderID,
		Email:         profile.Email,
		EmailVerified: profile.EmailVerified,
		Name:          profile.Name,
		AvatarURL:     profile.AvatarURL,
	})
	if err != nil {
		h.oauthFailed(c, "reconcile oauth user", err)
		return
	}

	userJSON, err := json.Marshal(res.User.Public())
	if err != nil {
		h.oauthFailed(c, "encode oauth user", err)
		return
	}
	RecordAuthEvent(op, "success")

	q := url.Values{}
	q.Set("token", res.Token)
	q.Set("user", string(userJSON))
	q.Set("isNewUser", strconv.FormatBool(res.IsNewUser))
	c.Redirect(http.StatusFound, h.frontendURL+"/oauth-success?"+q.Encode())
}

func (h *AuthHandler) oauthFailed(c *gin.Context, msg string, err error, fields ...zap.Field) {
	RecordAuthEvent("oauth_google", "failure")
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	h.logger.Warn(msg, fields...)
	c.Redirect(http.StatusFound, h.frontendURL+"/login?error=oauth_failed")
}
