package identity

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"net/http"

	"github.com/gin-gonic/gin"
)

// JWKSet is a JSON Web Key Set (RFC 7517).
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK is a JSON Web Key for an RSA public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSHandler serves the token verification key so that other Animora
// services can validate bearer tokens without sharing a secret.
func JWKSHandler(tokens *UserTokenIssuer) gin.HandlerFunc {
	set := JWKSet{Keys: []JWK{rsaPublicKeyToJWK(tokens.PublicKey(), tokens.KeyID())}}
	return func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=300")
		c.JSON(http.StatusOK, set)
	}
}

// rsaPublicKeyToJWK encodes an RSA public key as a JWK (RFC 7518 §6.3).
func rsaPublicKeyToJWK(pub *rsa.PublicKey, kid string) JWK {
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())

	// Exponent as big-endian, minimal-length bytes.
	eBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(eBuf, uint64(pub.E))
	i := 0
	for i < len(eBuf)-1 && eBuf[i] == 0 {
		i++
	}
	e := base64.RawURLEncoding.EncodeToString(eBuf[i:])

	return JWK{Kty: "RSA", Use: "sig", Kid: kid, Alg: "RS256", N: n, E: e}
}
