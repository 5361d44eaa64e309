// Package oauth adapts Google sign-in to Animora accounts. It owns the
// redirect handshake and returns a provider-neutral Profile; account
// reconciliation happens in the users package.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ProviderGoogle is the provider name recorded on federated accounts.
const ProviderGoogle = "google"

const (
	defaultStateTTL    = 10 * time.Minute
	googleUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	maxUserInfoBodyLen = 1 << 20
)

var (
	ErrNotConfigured = errors.New("oauth: provider not configured")
	ErrInvalidCode   = errors.New("oauth: invalid authorization code")
	ErrNoEmail       = errors.New("oauth: provider returned no email address")
)

// Profile is the identity asserted by the provider.
type Profile struct {
	Provider      string
	ProviderID    string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// GoogleConfig holds the Google OAuth client registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	StateTTL     time.Duration
}

// GoogleProvider runs the Google authorization-code flow.
type GoogleProvider struct {
	conf        *oauth2.Config
	states      StateStore
	stateTTL    time.Duration
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogleProvider creates a GoogleProvider. It returns ErrNotConfigured when
// the client id or secret is missing so callers can leave the routes disabled.
func NewGoogleProvider(cfg GoogleConfig, states StateStore) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"profile", "email"},
			Endpoint:     google.Endpoint,
		},
		states:      states,
		stateTTL:    ttl,
		userInfoURL: googleUserInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// SetEndpoints points the provider at alternative token and userinfo URLs.
func (p *GoogleProvider) SetEndpoints(authURL, tokenURL, userInfoURL string) {
	p.conf.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
	p.userInfoURL = userInfoURL
}

// AuthCodeURL stores a fresh one-time state and returns the consent-screen URL.
func (p *GoogleProvider) AuthCodeURL(ctx context.Context) (string, error) {
	state, err := NewState()
	if err != nil {
		return "", err
	}
	if err := p.states.Save(ctx, state, p.stateTTL); err != nil {
		return "", err
	}
	return p.conf.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Exchange validates the callback state, redeems code and fetches the profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code, state string) (*Profile, error) {
	if err := p.states.Consume(ctx, state); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrInvalidCode
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCode, err)
	}

	info, err := p.fetchUserInfo(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch google user: %w", err)
	}
	if strings.TrimSpace(info.Email) == "" {
		return nil, ErrNoEmail
	}

	return &Profile{
		Provider:      ProviderGoogle,
		ProviderID:    info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		Name:          info.Name,
		AvatarURL:     info.Picture,
	}, nil
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (p *GoogleProvider) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google api returned status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBodyLen)).Decode(&info); err != nil {
		return nil, fmt.Errorf("parse google user info: %w", err)
	}
	if info.ID == "" {
		return nil, errors.New("google user info missing id")
	}
	return &info, nil
}
