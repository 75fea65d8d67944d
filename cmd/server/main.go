package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/Brownie44l1/imageclf/internal/classifier"
	"github.com/Brownie44l1/imageclf/internal/config"
	"github.com/Brownie44l1/imageclf/internal/handlers"
	"github.com/Brownie44l1/imageclf/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "imageclf: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("", ".env")
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "loading model",
		slog.String("model", cfg.Model),
		slog.String("device", cfg.DeviceClass().String()),
		slog.String("dir", cfg.ModelDir))

	svc, err := classifier.New(ctx,
		classifier.WithModel(cfg.Weight()),
		classifier.WithDevice(cfg.DeviceClass()),
		classifier.WithModelDir(cfg.ModelDir),
		classifier.WithLibraryPath(cfg.LibraryPath),
		classifier.WithIntraOpThreads(cfg.IntraOpThreads),
		classifier.WithResultCache(cfg.ResultCacheSize),
		classifier.WithLogger(logger))
	if err != nil {
		return xerrors.Newf("failed to initialize classifier: %w", err)
	}
	defer svc.Close()

	handler := handlers.NewHandler(svc, logger, cfg.MaxUploadBytes)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handlers.Routes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.InfoContext(ctx, "server starting",
		slog.Int("port", cfg.Port),
		slog.String("provider", svc.Providers().String()),
		slog.String("categories", svc.Categories().String()))
	logger.InfoContext(ctx, "endpoints",
		slog.String("health", "GET /health"),
		slog.String("categories", "GET /categories"),
		slog.String("classify", "POST /classify"),
		slog.String("upload", "POST /classify/image"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return xerrors.Newf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
