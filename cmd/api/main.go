package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/bobarin/reels/internal/api"
	"github.com/bobarin/reels/internal/config"
	"github.com/bobarin/reels/internal/db"
	"github.com/bobarin/reels/internal/logging"
	"github.com/bobarin/reels/internal/queue"
	"github.com/bobarin/reels/internal/services"
	"github.com/bobarin/reels/internal/storage"
	"github.com/bobarin/reels/internal/worker"
	"go.uber.org/zap"
)

// Staged renders untouched this long belong to a dead process.
const partialMaxAge = time.Hour

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting reels API...")

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	err = database.EnsureSchema(schemaCtx)
	cancelSchema()
	if err != nil {
		logger.Fatal("Failed to prepare schema", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Redis is only a wake-up channel; without it workers poll.
	var notifier api.JobNotifier
	var waker worker.Notifier
	if cfg.RedisURL != "" {
		q, err := queue.New(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to queue", zap.Error(err))
		}
		defer q.Close()
		notifier, waker = q, q
		logger.Info("Connected to Redis wake-up channel")
	} else {
		logger.Info("No REDIS_URL set, workers will poll", zap.Duration("interval", cfg.PollInterval))
	}

	// Initialize artifact storage
	var artifacts storage.ArtifactStore
	mediaRoot := ""
	switch cfg.ArtifactBackend {
	case "s3":
		s3Store, err := storage.NewS3Store(storage.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			UsePathStyle:  cfg.S3UsePathStyle,
			PublicBaseURL: cfg.S3PublicBaseURL,
			Prefix:        cfg.S3Prefix,
			StagingDir:    filepath.Join(cfg.WorkRoot, "staging"),
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize S3 storage", zap.Error(err))
		}
		artifacts = s3Store
		logger.Info("Initialized S3 artifact storage", zap.String("bucket", cfg.S3Bucket))
	default:
		local, err := storage.NewLocalStore(cfg.ArtifactRoot, cfg.ArtifactPublicBase, logger)
		if err != nil {
			logger.Fatal("Failed to initialize local storage", zap.Error(err))
		}
		if _, err := local.SweepPartials(partialMaxAge); err != nil {
			logger.Warn("Failed to sweep staged artifacts", zap.Error(err))
		}
		artifacts = local
		mediaRoot = local.Root()
		logger.Info("Initialized local artifact storage", zap.String("root", local.Root()))
	}

	// Create API handler
	handler := api.NewHandler(database, notifier, artifacts, cfg.Limits(), cfg.UploadsRoot, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		MediaRoot:          mediaRoot,
		MediaPrefix:        cfg.ArtifactPublicBase,
		Logger:             logger,
	})

	if cfg.BackendAPIKey != "" {
		logger.Info("API key authentication enabled")
	} else {
		logger.Warn("No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start scheduler if enabled
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var workerWG sync.WaitGroup

	if cfg.WorkerEnabled {
		for _, tool := range []string{cfg.FFmpegPath, cfg.FFprobePath} {
			if _, err := exec.LookPath(tool); err != nil {
				logger.Warn("Transcoder tool not found, renders will fail", zap.String("tool", tool))
			}
		}

		ffmpegSvc := services.NewFFmpegService(cfg.FFmpegPath, cfg.FFprobePath, logger)
		prober := services.NewProber(ffmpegSvc, logger)
		normalizer := services.NewNormalizer(ffmpegSvc, prober, services.NormalizerConfig{
			UploadsRoot:       cfg.UploadsRoot,
			MaxImageDimension: cfg.MaxImageDimension,
			Limits:            cfg.Limits(),
		}, logger)
		pipeline := services.NewPipeline(ffmpegSvc, normalizer, services.NewAssembler(ffmpegSvc, prober, logger), cfg.Limits(), logger)

		w := worker.New(database, pipeline, artifacts, worker.Options{
			WorkRoot:   cfg.WorkRoot,
			JobTimeout: cfg.JobTimeout,
			Retention:  cfg.ArtifactRetention,
		}, logger)
		scheduler := worker.NewScheduler(w, waker, worker.SchedulerConfig{
			Workers:      cfg.WorkerCount,
			PollInterval: cfg.PollInterval,
			StaleAfter:   cfg.StaleJobAfter,
		}, logger)

		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			if err := scheduler.Start(workerCtx); err != nil {
				logger.Error("Scheduler stopped with error", zap.Error(err))
			}
		}()
	}

	// Start server in goroutine
	go func() {
		logger.Info("API server listening", zap.String("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// In-flight renders see a cancelled context and go back to the queue.
	workerCancel()
	workerWG.Wait()

	logger.Info("Server exited")
}
