package auth

import (
	"net/http"
	"strings"

	"docrelay/internal/models"

	"github.com/gin-gonic/gin"
)

const sessionContextKey = "auth_session"

// Middleware validates bearer tokens, counts the request as activity and
// stores the session in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		ctx := c.Request.Context()
		session, err := s.Validate(ctx, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if err := s.Touch(ctx, token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(sessionContextKey, session)
		c.Next()
	}
}

// SessionFromContext retrieves the authenticated session from the gin context.
func SessionFromContext(c *gin.Context) (*models.Session, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	session, ok := val.(*models.Session)
	return session, ok
}

// ExtractToken reads the bearer token from the Authorization header, falling
// back to the token query parameter used by the websocket handshake.
func ExtractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}
