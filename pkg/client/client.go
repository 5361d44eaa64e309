package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNoToken is returned by authenticated calls made before a token is known.
var ErrNoToken = errors.New("client: no bearer token; call Login or VerifyEmail first")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Cause      string // only populated by servers running in development mode
}

func (e *APIError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("animora: %d %s (%s)", e.StatusCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("animora: %d %s", e.StatusCode, e.Message)
}

// User is the public projection of an account.
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	IsVerified       bool      `json:"isVerified"`
	ProfileImage     string    `json:"profileImage,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Address          string    `json:"address,omitempty"`
	HasLocalPassword bool      `json:"hasLocalPassword"`
	ProfileCompleted bool      `json:"profileCompleted"`
	CreatedAt        time.Time `json:"createdAt"`
}

// RegisterRequest is the payload for Register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
}

// RegisterResult is returned by Register.
type RegisterResult struct {
	Message              string `json:"message"`
	UserID               string `json:"userId"`
	Email                string `json:"email"`
	RequiresVerification bool   `json:"requiresVerification"`
	DevCode              string `json:"devCode,omitempty"`
}

// AuthResult carries a bearer token and the account it was issued for.
type AuthResult struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	User    *User  `json:"user"`
}

// ResendResult is returned by ResendCode.
type ResendResult struct {
	Message string `json:"message"`
	DevCode string `json:"devCode,omitempty"`
}

// ForgotPasswordResult is returned by ForgotPassword.
type ForgotPasswordResult struct {
	Message     string `json:"message"`
	DevToken    string `json:"devToken,omitempty"`
	DevResetURL string `json:"devResetUrl,omitempty"`
}

// Client is the Animora SDK entry point. It is safe for concurrent use.
type Client struct {
	base       string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("client: nil http.Client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a previously issued token to authenticated calls.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTimeout overrides the default 10 second request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:5000".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: invalid base URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Token returns the bearer token currently in use.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Register creates an unverified account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	var out RegisterResult
	if err := c.call(ctx, http.MethodPost, "/api/auth/register", false, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login signs in with an email or username and keeps the returned token.
func (c *Client) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "/api/auth/login", map[string]string{
		"identifier": identifier,
		"password":   password,
	})
}

// VerifyEmail submits the emailed code and keeps the returned token.
func (c *Client) VerifyEmail(ctx context.Context, email, code string) (*AuthResult, error) {
	return c.authenticate(ctx, "/api/auth/verify-email", map[string]string{
		"email": email,
		"code":  code,
	})
}

// ResendCode requests a fresh verification code.
func (c *Client) ResendCode(ctx context.Context, email string) (*ResendResult, error) {
	var out ResendResult
	if err := c.call(ctx, http.MethodPost, "/api/auth/resend-code", false, map[string]string{"email": email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForgotPassword requests a password reset link.
func (c *Client) ForgotPassword(ctx context.Context, email string) (*ForgotPasswordResult, error) {
	var out ForgotPasswordResult
	if err := c.call(ctx, http.MethodPost, "/api/auth/forgot-password", false, map[string]string{"email": email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	path := "/api/auth/reset-password/" + url.PathEscape(token)
	return c.call(ctx, http.MethodPost, path, false, map[string]string{"password": password}, nil)
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		User *User `json:"user"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/auth/me", true, nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// ChangePassword replaces the local password of the authenticated account.
func (c *Client) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	return c.call(ctx, http.MethodPut, "/api/auth/change-password", true, map[string]string{
		"currentPassword": currentPassword,
		"newPassword":     newPassword,
	}, nil)
}

// CompleteGoogleProfile finishes a Google sign-up and keeps the refreshed token.
func (c *Client) CompleteGoogleProfile(ctx context.Context, username, role string) (*AuthResult, error) {
	var out AuthResult
	err := c.call(ctx, http.MethodPost, "/api/auth/complete-google-profile", true, map[string]string{
		"username": username,
		"role":     role,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// DeleteAccount permanently removes the authenticated account and forgets the token.
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := c.call(ctx, http.MethodDelete, "/api/auth/delete-account", true, nil, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*AuthResult, error) {
	var out AuthResult
	if err := c.call(ctx, http.MethodPost, path, false, body, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// call performs a JSON request and decodes the envelope into out.
func (c *Client) call(ctx context.Context, method, path string, auth bool, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token := c.Token()
		if token == "" {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var env struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil && env.Message != "" {
			apiErr.Message = env.Message
			apiErr.Cause = env.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
