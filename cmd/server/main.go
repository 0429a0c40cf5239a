package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/waste-api/internal/app"
	"github.com/Brownie44l1/waste-api/internal/config"
	"github.com/Brownie44l1/waste-api/internal/handlers"
	"github.com/Brownie44l1/waste-api/internal/httpx"
	"github.com/Brownie44l1/waste-api/internal/logger"
	"github.com/Brownie44l1/waste-api/internal/metrics"
	"github.com/Brownie44l1/waste-api/internal/watch"
	"github.com/Brownie44l1/waste-api/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	stats := metrics.NewRecorder(0.2)

	modelPath := cfg.Model.WeightsPath
	if cfg.Model.Backend == config.BackendONNX {
		modelPath = cfg.Model.ONNXPath
	}
	zl.Info("loading model", zap.String("backend", cfg.Model.Backend), zap.String("path", modelPath))

	svc, err := app.NewService(cfg, zl, stats)
	if err != nil {
		return err
	}
	defer svc.Close()

	mux := http.NewServeMux()
	handlers.NewHandler(svc, handlers.Options{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Stats:          stats,
		Logger:         zl,
	}).Register(mux)
	mux.Handle("/ws/classify", ws.NewStream(svc, cfg.MaxUploadBytes, cfg.CORSOrigin, zl))

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: httpx.Chain(mux,
			httpx.Recover(zl),
			httpx.AccessLog(zl),
			httpx.CORS{AllowOrigin: cfg.CORSOrigin}.Wrap,
		),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Timeout.Read) * time.Second,
		WriteTimeout:      time.Duration(cfg.Timeout.Write) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zl.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("labels", strings.Join(svc.Labels(), ",")),
		)
		zl.Info("endpoints",
			zap.Strings("routes", []string{
				"GET /health", "GET /api/labels", "GET /api/stats",
				"POST /api/classify", "POST /predict", "GET /ws/classify",
			}),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		zl.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeout.Shutdown)*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Watch {
		g.Go(watchModel(ctx, modelPath, zl))
	}

	return g.Wait()
}

// watchModel runs the model file watcher as an errgroup task. A watcher that
// cannot start is logged and the server keeps serving.
func watchModel(ctx context.Context, path string, zl *zap.Logger) func() error {
	return func() error {
		if err := watch.New(path, zl, nil).Run(ctx); err != nil {
			zl.Warn("model watcher stopped", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
}
