// Package client is the Animora accounts Go SDK.
//
// It wraps the /api/auth HTTP surface: registration, email verification,
// login, password recovery and the authenticated account routes.
//
// # Registering and signing in
//
//	c, err := client.New("https://api.animora.app")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg, _ := c.Register(ctx, client.RegisterRequest{
//	    Email:    "jo@example.com",
//	    Password: "secret1",
//	    Name:     "Jo",
//	    Username: "jo",
//	})
//	// The code arrives by email (or reg.DevCode in development mode).
//	auth, err := c.VerifyEmail(ctx, reg.Email, code)
//
// Login and VerifyEmail remember the returned bearer token, so subsequent
// calls to Me, ChangePassword and DeleteAccount are authenticated:
//
//	me, err := c.Me(ctx)
//
// # Reusing a token
//
//	c, _ := client.New(baseURL, client.WithBearerToken(token))
//
// # Errors
//
// Non-2xx responses are returned as *APIError carrying the HTTP status and
// the server's message:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
//	    // re-authenticate
//	}
package client
