package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vbonduro/detectchat/internal/config"
	"github.com/vbonduro/detectchat/internal/db"
	"github.com/vbonduro/detectchat/internal/detect"
	claudedetect "github.com/vbonduro/detectchat/internal/detect/claude"
	ollamadetect "github.com/vbonduro/detectchat/internal/detect/ollama"
	"github.com/vbonduro/detectchat/internal/detect/yolo"
	"github.com/vbonduro/detectchat/internal/domain"
	"github.com/vbonduro/detectchat/internal/imagesrc"
	"github.com/vbonduro/detectchat/internal/logging"
	"github.com/vbonduro/detectchat/internal/photostore"
	"github.com/vbonduro/detectchat/internal/photostore/local"
	"github.com/vbonduro/detectchat/internal/photostore/s3store"
	"github.com/vbonduro/detectchat/internal/retention"
	"github.com/vbonduro/detectchat/internal/service"
	"github.com/vbonduro/detectchat/internal/store"
	"github.com/vbonduro/detectchat/internal/web"
)

func main() {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	photoStg, err := newPhotoStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var (
		recorder detectionRecorder
		lister   detectionLister
	)
	if cfg.DBPath != "" {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer closeDB(database, logger)

		detections := store.NewDetectionStore(database)
		recorder, lister = detections, detections

		stopPrune, err := retention.NewJob(detections, cfg.AuditRetention, logger).Start(cfg.AuditPruneSchedule)
		if err != nil {
			return err
		}
		defer stopPrune()
		logger.Info("detection audit log enabled", "path", cfg.DBPath)
	}

	svc := service.NewChatService(
		imagesrc.NewDecoder(&http.Client{}, cfg.FetchTimeout, cfg.MaxImageBytes),
		photoStg,
		newDetector(cfg, logger),
		recorder,
		service.Options{
			ServiceAddress: serviceAddress(cfg),
			UploadTimeout:  cfg.UploadTimeout,
			PredictTimeout: cfg.PredictTimeout,
		},
		logger,
	)

	// Base64 inflates the image by a third; the rest covers the JSON envelope.
	server := web.NewServer(svc, lister, web.Options{MaxBodyBytes: cfg.MaxRequestBytes}, logger)
	return server.Run(ctx, cfg.ListenAddr)
}

// detectionRecorder and detectionLister stay nil interfaces when the audit log
// is disabled, rather than wrapping a nil *store.DetectionStore.
type detectionRecorder interface {
	Create(ctx context.Context, d *domain.Detection) error
}

type detectionLister interface {
	ListByChatID(ctx context.Context, chatID string, limit int) ([]*domain.Detection, error)
}

func newPhotoStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (photostore.PhotoStore, error) {
	switch cfg.PhotoBackend {
	case config.PhotoBackendS3:
		s, err := s3store.New(ctx, s3store.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.StorageRegion(),
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
			ACL:             cfg.S3.ACL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using S3 photo store", "bucket", cfg.S3.Bucket, "endpoint", cfg.S3.Endpoint)
		return s, nil
	case config.PhotoBackendLocal:
		s, err := local.NewLocalPhotoStore(cfg.PhotoPath, cfg.PhotoPublicURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using local photo store", "path", cfg.PhotoPath)
		return s, nil
	default:
		logger.Info("photo upload disabled")
		return nil, nil
	}
}

func newDetector(cfg *config.Config, logger *slog.Logger) detect.Detector {
	switch cfg.DetectionBackend {
	case config.DetectionBackendClaude:
		logger.Info("using Claude detection backend", "model", cfg.ClaudeModel)
		return claudedetect.NewClaudeDetector(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	case config.DetectionBackendOllama:
		logger.Info("using Ollama detection backend", "host", cfg.OllamaHost, "model", cfg.OllamaModel)
		return ollamadetect.NewOllamaDetector(cfg.OllamaHost, cfg.OllamaModel, &http.Client{})
	default:
		logger.Info("using YOLO detection backend", "predict_url", yolo.PredictURL(cfg.YOLOService))
		return yolo.NewClient(cfg.YOLOService, &http.Client{})
	}
}

func serviceAddress(cfg *config.Config) string {
	switch cfg.DetectionBackend {
	case config.DetectionBackendClaude:
		return "the Anthropic API"
	case config.DetectionBackendOllama:
		return cfg.OllamaHost
	default:
		return cfg.YOLOService
	}
}

func closeDB(database *sql.DB, logger *slog.Logger) {
	if err := database.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
}
