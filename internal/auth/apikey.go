package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderName carries the API key.
const HeaderName = "X-API-Key"

// QueryParam is the fallback for clients that cannot set headers, such as
// browser WebSocket connections.
const QueryParam = "api_key"

// APIKeyMiddleware rejects requests without the configured key. An empty
// key disables authentication.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	want := []byte(apiKey)
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(HeaderName)
		if provided == "" {
			provided = c.Query(QueryParam)
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), want) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
			return
		}

		c.Next()
	}
}
