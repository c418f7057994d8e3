package middleware

import (
	"net/http"
	"strings"

	"points_service/internal/domain"
	"points_service/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID   = "user_id"
	ctxIdentity = "identity"
)

// Identity resolves who is calling. A valid Bearer token makes the caller
// "user:<id>"; without one the caller is "ip:<client ip>". A token that is
// present but invalid is refused.
func Identity(tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !tokens.Enabled() {
			c.Set(ctxIdentity, "ip:"+c.ClientIP())
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			abortUnauthenticated(c, "malformed authorization header")
			return
		}
		userID, err := tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			abortUnauthenticated(c, "invalid token")
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxIdentity, "user:"+userID)
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"reason":  domain.ReasonUnauthenticated,
		"message": msg,
	})
}

// IdentityFrom returns the rate-limit identity set by Identity.
func IdentityFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxIdentity); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "ip:" + c.ClientIP()
}

// UserIDFrom returns the authenticated user id, if any.
func UserIDFrom(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
