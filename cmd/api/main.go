package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/freibot/backend/internal/app"
	"github.com/zhouzirui/freibot/backend/internal/config"
	"github.com/zhouzirui/freibot/backend/internal/handler"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Warnf("failed to load .env file: %v, continuing with system environment variables only", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	services, err := app.New(ctx, cfg)
	if err != nil {
		logger.Errorf("failed to initialize services: %v", err)
		os.Exit(1)
	}
	defer services.Close()

	deps := handler.Dependencies{
		Conversation: services.Conversation,
		Sessions:     services.Sessions,
		Index:        services.Vectors,
		Status:       services.Status(),
	}
	if services.Conversation == nil {
		logger.Warnf("RAG system not loaded, /ask will answer 503 until embeddings and the language model are configured")
	}

	router := handler.NewRouter(deps)

	if err := startServer(ctx, cfg.Server, router); err != nil {
		logger.Errorf("server error: %v", err)
		os.Exit(1)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Infof("Freibot backend listening on %s", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
