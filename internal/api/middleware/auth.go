package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// BearerAuth rejects requests whose Authorization header is not
// "Bearer <token>".
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			log.Warn().Str("path", c.Request.URL.Path).Msg("No Authorization header")
			unauthorized(c, "Unauthorized")
			return
		}

		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			log.Warn().Str("path", c.Request.URL.Path).Msg("Invalid Authorization header format")
			unauthorized(c, "Invalid Authorization header format")
			return
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			log.Warn().Str("path", c.Request.URL.Path).Msg("Invalid token")
			unauthorized(c, "Unauthorized")
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, domain.Envelope{
		Status:  domain.StatusError,
		Message: message,
	})
}
