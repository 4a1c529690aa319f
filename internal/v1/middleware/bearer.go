package middleware

import (
	"net/http"
	"strings"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BearerGuard validates an "Authorization: Bearer" header and stores the claims
// under auth.ClaimsKey. Requests without the header pass through untouched so the
// socket handshake can fall back to its own token; a header that fails validation
// is refused with 401.
func BearerGuard(validator types.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
			return
		}

		claims, err := validator.ValidateToken(strings.TrimSpace(token))
		if err != nil || claims.Subject == "" {
			logging.Warn(c.Request.Context(), "Bearer token rejected",
				zap.String("token", logging.RedactToken(token)), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(auth.ClaimsKey, claims)
		c.Request = c.Request.WithContext(logging.WithValue(c.Request.Context(), logging.UserIDKey, claims.Subject))
		c.Next()
	}
}
