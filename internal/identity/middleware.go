package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxUserClaims = "animora_user_claims"

// RequireUserToken returns a Gin middleware that enforces a valid Bearer user token.
//
// On success it injects the *UserTokenClaims into the context; read them
// back with UserClaimsFromCtx.
func RequireUserToken(tokens *UserTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(tokenStr) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Not authorized, no token",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimSpace(tokenStr))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Not authorized, token failed",
			})
			return
		}

		c.Set(ctxUserClaims, claims)
		c.Next()
	}
}

// UserClaimsFromCtx retrieves the claims injected by RequireUserToken.
// Returns nil if no user token is present in the context.
func UserClaimsFromCtx(c *gin.Context) *UserTokenClaims {
	v, _ := c.Get(ctxUserClaims)
	claims, _ := v.(*UserTokenClaims)
	return claims
}
