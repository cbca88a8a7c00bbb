package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/core"
	"github.com/m3n3sx/faktulove3-sub000/internal/httpapi"
	"github.com/m3n3sx/faktulove3-sub000/internal/ingest"
	"github.com/m3n3sx/faktulove3-sub000/internal/server"
)

func main() {
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if path := os.Getenv("POLICY_FILE"); path != "" {
		if err := cfg.LoadPolicyFile(path); err != nil {
			logger.Error("failed to load policy file", "path", path, "error", err)
			os.Exit(2)
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		os.Exit(1)
	}
	defer server.CloseDB(db, logger)
	if err := server.PingDB(ctx, db, logger, 5*time.Second); err != nil {
		os.Exit(1)
	}

	sys, err := core.Build(ctx, cfg, logger, core.WithDB(db))
	if err != nil {
		logger.Error("failed to assemble pipeline", "error", err)
		os.Exit(1)
	}

	go sys.Scheduler.Run(ctx)

	if dir := os.Getenv("INBOX_DIR"); dir != "" {
		owner, err := uuid.Parse(os.Getenv("INBOX_OWNER_ID"))
		if err != nil {
			logger.Error("INBOX_OWNER_ID must be a UUID when INBOX_DIR is set", "error", err)
			os.Exit(2)
		}
		go func() {
			err := sys.Ingest.WatchInbox(ctx, owner, ingest.WatchConfig{Roots: []string{dir}, InitialScan: true})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("inbox watcher stopped", "error", err)
			}
		}()
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := server.NewGRPCServer(
		server.NewPipelineServer(sys.Ingest, sys.Reviews, sys.Store.Invoices, sys.Exporter, logger),
		logger,
	)
	go func() {
		logger.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           httpapi.NewRouter(sys, httpapi.Options{MaxBodyBytes: cfg.Upload.MaxBytes}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	sys.Close(shutdownCtx)
	logger.Info("stopped")
}
