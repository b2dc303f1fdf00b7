// cmd/mockserver/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/uploadprobe/internal/api"
	"github.com/andresuchdata/uploadprobe/internal/api/middleware"
	"github.com/andresuchdata/uploadprobe/internal/config"
	"github.com/andresuchdata/uploadprobe/internal/repository"
	"github.com/andresuchdata/uploadprobe/internal/repository/postgres"
	"github.com/andresuchdata/uploadprobe/internal/service"
	"github.com/andresuchdata/uploadprobe/internal/storage"
	"github.com/andresuchdata/uploadprobe/pkg/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	logger.SetLevel(cfg.LogLevel)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Probe.AuthToken == "" {
		logger.Log.Fatal().Msg("AUTH_TOKEN must be set for the mock server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, objects, err := newStorage(cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	repo, closeRepo, err := newRepository(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize repository")
	}
	defer closeRepo()

	// Initialize services
	uploadService := service.NewUploadService(repo, store, service.Options{
		Layout:        storage.KeyLayout{Prefix: cfg.Storage.KeyPrefix, Suffix: cfg.Storage.KeySuffix},
		PresignExpiry: cfg.Mock.PresignExpiry(),
	})
	go uploadService.RunSweeper(ctx, cfg.Mock.SweepInterval())

	// Initialize HTTP server
	router := api.NewRouter(&api.Services{
		UploadService: uploadService,
		Objects:       objects,
		AuthToken:     cfg.Probe.AuthToken,
		Metrics:       middleware.NewMetrics(),
	}, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Log.Info().
			Str("port", cfg.Server.Port).
			Str("storage", cfg.Mock.Storage).
			Bool("postgres", cfg.Database.Enabled).
			Msg("Starting mock upload server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	<-ctx.Done()
	logger.Log.Info().Msg("Shutting down server...")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Log.Info().Msg("Server exiting")
}

// newStorage picks the object store. The memory store is also returned on its
// own because the router has to serve its presigned URLs.
func newStorage(cfg *config.Config) (storage.ObjectStorage, *storage.MemoryStorage, error) {
	switch cfg.Mock.Storage {
	case "", "memory":
		objects := storage.NewMemoryStorage(cfg.Server.PublicURL, cfg.Mock.SigningSecret)
		return objects, objects, nil
	case "s3", "minio":
		client, err := storage.NewMinioClient(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown MOCK_STORAGE %q", cfg.Mock.Storage)
	}
}

func newRepository(ctx context.Context, cfg *config.Config) (repository.UploadRepository, func(), error) {
	if !cfg.Database.Enabled {
		return repository.NewMemoryUploadRepository(), func() {}, nil
	}

	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	return postgres.NewUploadRepository(db), func() { db.Close() }, nil
}
