package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ShahidDS/game-time-tracker/services"

	"github.com/gin-gonic/gin"
)

const adminKey = "admin_username"

// AdminAuth requires a bearer admin token. When admin login is not
// configured every request passes.
func AdminAuth(auth *services.AuthService, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			return
		}

		claims, err := auth.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			logger.Warn("admin_token_rejected",
				slog.String("request_id", GetRequestID(c)),
				slog.Any("error", err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(adminKey, claims.Username)
		c.Next()
	}
}

func AdminUsername(c *gin.Context) string {
	return c.GetString(adminKey)
}
