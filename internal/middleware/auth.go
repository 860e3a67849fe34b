package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"wagateway/internal/cache"
	"wagateway/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Context keys set for downstream handlers
const (
	ContextUserID = "user_id"
	ContextAPIKey = "api_key"
)

// APIKeyAuth authenticates management API calls via the X-API-Key header (or
// api_key query parameter), applies a fixed-window per-key rate limit and
// records a usage row after the handler runs.
func APIKeyAuth(db *gorm.DB, limiter cache.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Please provide your API key via X-API-Key header or api_key query parameter",
			})
			return
		}

		var apiKey models.ApiKey
		if err := db.Where("key = ?", key).First(&apiKey).Error; err != nil || !apiKey.IsValid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is invalid or expired",
			})
			return
		}

		limit := apiKey.RateLimit
		if limit <= 0 {
			limit = 60
		}
		if limiter != nil {
			count := limiter.Increment(fmt.Sprintf("api_key:%d", apiKey.ID))
			if count > limit {
				c.Header("Retry-After", "60")
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":   "Rate limit exceeded",
					"message": "Too many requests. Try again later.",
				})
				return
			}
		}

		c.Set(ContextUserID, apiKey.UserID)
		c.Set(ContextAPIKey, &apiKey)

		start := time.Now()
		c.Next()

		usage := models.ApiKeyUsage{
			ApiKeyID:       apiKey.ID,
			Endpoint:       c.Request.URL.Path,
			Method:         c.Request.Method,
			StatusCode:     c.Writer.Status(),
			IPAddress:      c.ClientIP(),
			ResponseTimeMs: time.Since(start).Milliseconds(),
		}
		if err := db.Create(&usage).Error; err != nil {
			log.Printf("Error recording API key usage: %v", err)
		}
		now := time.Now()
		db.Model(&apiKey).UpdateColumn("last_used_at", now)
	}
}

// RequireScope guards a route group with an API-key scope.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok := c.Get(ContextAPIKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			return
		}
		apiKey := value.(*models.ApiKey)
		if !apiKey.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Insufficient permissions",
				"message": fmt.Sprintf("This API key does not have the '%s' scope", scope),
			})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user's id from the request context.
func UserID(c *gin.Context) uint {
	return c.GetUint(ContextUserID)
}
