package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/qrtable/utils"
)

// StreamAuthMiddleware authenticates dashboard streams. Browsers cannot set headers on a
// websocket or EventSource request, so the token travels in ?token=; a Bearer header also works.
func StreamAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		claims, err := utils.ParseToken(token)
		if err != nil {
			utils.InfoLogger.WithField("ip", c.ClientIP()).Warn("dashboard stream rejected: invalid token")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}
