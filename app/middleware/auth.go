package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"poolwatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader is accepted as an alternative to a bearer token
const APIKeyHeader = "X-API-Key"

// AuthMiddleware simple token authentication middleware. An empty key disables authentication.
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		token := c.GetHeader(APIKeyHeader)
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			logger.WarnCtx(c.Request.Context(), "unauthorized request to %s, invalid API key", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Next()
	}
}
