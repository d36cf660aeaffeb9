package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loopsync/backend/pkg/config"
	"loopsync/backend/pkg/di"
	"loopsync/backend/pkg/health"
	"loopsync/backend/pkg/logger"
	"loopsync/backend/pkg/router"
)

func main() {
	cfg := config.Load()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "env", cfg.Server.Env, "version", os.Getenv("APP_VERSION"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.New(ctx, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	if err := container.Start(ctx); err != nil {
		log.LogError(err, "Failed to start background tasks")
		os.Exit(1)
	}

	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	grpcSrv := health.NewGRPCServer(container.Health)
	if cfg.Server.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			log.LogError(err, "Failed to listen for gRPC", "port", cfg.Server.GRPCPort)
			os.Exit(1)
		}
		go func() {
			log.Info("gRPC health server starting", "port", cfg.Server.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-errCh:
		log.LogError(err, "Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	grpcSrv.GracefulStop()
	if err := container.Stop(shutdownCtx); err != nil {
		log.LogError(err, "Failed to stop background tasks")
	}

	log.Info("Server exited gracefully")
}
