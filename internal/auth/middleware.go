package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	bearerTokenKey = "bearer_token"
	userIDKey      = "user_id"
)

// Middleware requires every request to carry a bearer token — the gateway
// has nothing to authenticate it against, but it needs one to forward to
// the upstream engine on the caller's behalf — and stashes it, plus a
// best-effort unverified "sub" claim, in the gin context for handlers.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "missing or malformed bearer token", "status_code": http.StatusUnauthorized})
			c.Abort()
			return
		}

		c.Set(bearerTokenKey, token)
		if sub := UnverifiedSubject(token); sub != nil {
			c.Set(userIDKey, *sub)
		}
		c.Next()
	}
}

// BearerToken returns the token the request carried, as stashed by
// Middleware. Panics if called outside a request that passed Middleware —
// every route under this package's scope does.
func BearerToken(c *gin.Context) string {
	return c.MustGet(bearerTokenKey).(string)
}

// UserID returns the caller's identity, if Middleware could extract a "sub"
// claim from the bearer token, else nil.
func UserID(c *gin.Context) *string {
	v, exists := c.Get(userIDKey)
	if !exists {
		return nil
	}
	s := v.(string)
	return &s
}
