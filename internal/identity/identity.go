// Package identity issues and verifies Animora bearer tokens.
//
// It provides:
//   - KeyManager: creates/loads the RSA signing key
//   - UserTokenIssuer: issues and verifies RS256 user tokens
//   - JWKSHandler: publishes the verification key as a JWK Set
//   - RequireUserToken: Gin middleware enforcing Bearer user tokens
package identity
