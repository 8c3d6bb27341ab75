package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/recall-backend/internal/http/response"
)

var errBadCronSecret = errors.New("missing or invalid cron secret")

// RequireCronSecret guards scheduled-task endpoints with a shared bearer
// secret. An empty secret leaves the route open.
func RequireCronSecret(secret string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errBadCronSecret)
			c.Abort()
			return
		}
		c.Next()
	}
}
