package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imager/internal/api/handlers/image"
	"github.com/aliskhannn/imager/internal/api/router"
	"github.com/aliskhannn/imager/internal/api/server"
	"github.com/aliskhannn/imager/internal/config"
	"github.com/aliskhannn/imager/internal/infra/kafka/producer"
	"github.com/aliskhannn/imager/internal/metrics"
	"github.com/aliskhannn/imager/internal/processor"
	imagesvc "github.com/aliskhannn/imager/internal/service/image"
	"github.com/aliskhannn/imager/internal/storage/file"
	"github.com/aliskhannn/imager/internal/storage/s3"
	"github.com/aliskhannn/imager/internal/storage/staging"
	"github.com/aliskhannn/imager/internal/watermark"
)

// outputStore is what the pipeline and the file routes need from the processed-output backend.
type outputStore interface {
	Save(ctx context.Context, name string, src io.Reader) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	// Retry strategy for Kafka and object storage calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Staging area for raw uploads; created before the server accepts requests.
	area, err := staging.New(cfg.Storage.UploadDir)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to prepare upload directory")
	}
	zlog.Logger.Info().Str("dir", area.Dir()).Msg("staging area ready")

	// Processed-output store: local directory or MinIO bucket.
	var store outputStore
	switch cfg.Storage.Backend {
	case config.BackendMinIO:
		store, err = s3.NewStorage(ctx, cfg.Storage.MinIO, strategy)
	default:
		store, err = file.NewStorage(cfg.Storage.OutputDir)
	}
	if err != nil {
		zlog.Logger.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("failed to prepare output storage")
	}

	// Render the watermark once; every request composites the same overlay.
	spec, err := watermark.NewSpec(cfg.Watermark)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid watermark configuration")
	}
	overlay, err := watermark.Render(spec)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to render watermark")
	}

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	opts := imagesvc.Options{
		Recorder:        m,
		IsolateFailures: cfg.Batch.IsolateFailures,
	}

	// Optional Kafka producer for processed-image events.
	var p *producer.Producer
	if cfg.Kafka.Enabled {
		p = producer.New(&cfg.Kafka, strategy)
		opts.Publisher = p
	}

	imageProcessor := processor.New(store, overlay, processor.Options{
		Width:          cfg.Output.Width,
		Height:         cfg.Output.Height,
		Quality:        cfg.Output.Quality,
		Placement:      spec.Placement,
		MaxConcurrency: cfg.Batch.MaxConcurrency,
	})
	service := imagesvc.NewService(area, imageProcessor, store, opts)

	// HTTP handler for image routes.
	imgHandler := image.NewHandler(service, cfg.Upload.MaxFiles, cfg.Upload.MaxMemory)

	// Start HTTP server in a separate goroutine.
	r := router.Setup(imgHandler, metrics.Handler(prometheus.DefaultGatherer), cfg.CORS.AllowOrigins)
	s := server.New(cfg.Server, r)
	go func() {
		zlog.Logger.Info().Str("addr", s.Addr).Msg("server is running")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Close Kafka producer client.
	if p != nil {
		if err := p.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
}
