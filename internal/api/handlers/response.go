package handlers

import (
	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"status":  domain.StatusSuccess,
		"data":    data,
		"message": "",
	})
}

func respondError(c *gin.Context, status int, message string) {
	if status >= 500 {
		log.Error().Str("path", c.Request.URL.Path).Msg(message)
	}
	c.JSON(status, gin.H{
		"status":  domain.StatusError,
		"data":    nil,
		"message": message,
	})
}
