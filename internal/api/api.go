// internal/api/api.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/andresuchdata/uploadprobe/internal/api/handlers"
	"github.com/andresuchdata/uploadprobe/internal/api/middleware"
	"github.com/andresuchdata/uploadprobe/internal/service"
	"github.com/andresuchdata/uploadprobe/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// maxObjectBytes caps a single PUT against the in-memory object store.
const maxObjectBytes = 512 << 20

type Services struct {
	UploadService *service.UploadService
	// Objects is set when the server also plays the bucket.
	Objects   *storage.MemoryStorage
	AuthToken string
	Metrics   *middleware.Metrics
}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()

	if services == nil {
		services = &Services{}
	}

	metrics := services.Metrics
	if metrics == nil {
		metrics = middleware.NewMetrics()
	}

	// Add middleware
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(metrics.Middleware())
	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:     defaultOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "ETag"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	if services.UploadService != nil {
		uploadHandler := handlers.NewUploadHandler(services.UploadService)
		authGroup := router.Group("/", middleware.BearerAuth(services.AuthToken))
		{
			authGroup.GET("/upload/presign", uploadHandler.Presign)
			authGroup.GET("/upload/:file_id/complete", uploadHandler.Complete)
			authGroup.GET("/files", uploadHandler.ListFiles)
			authGroup.GET("/file/:file_id", uploadHandler.GetFile)
			authGroup.PUT("/file/:file_id", uploadHandler.RenameFile)
			authGroup.DELETE("/file/:file_id", uploadHandler.DeleteFile)
			authGroup.GET("/file/:file_id/dl", uploadHandler.Download)
		}
	}

	// Presigned object URLs authenticate through their signature.
	if services.Objects != nil {
		objectHandler := handlers.NewObjectHandler(services.Objects, maxObjectBytes, metrics.AddUploadedBytes)
		objects := router.Group(strings.TrimSuffix(storage.ObjectsPath, "/"))
		{
			objects.PUT("/*key", objectHandler.Put)
			objects.GET("/*key", objectHandler.Get)
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
