package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llm_evaluator/internal/config"
	"llm_evaluator/internal/httpapi"
	"llm_evaluator/internal/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Failed to load config: %v", err)
	}
	logging.SetLogLevel(logging.ParseLevel(cfg.LogLevel))

	// Background work (cache janitor, sink flushes) stops with this context
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Create router with all dependencies
	handler, deps, err := httpapi.NewRouter(ctx, cfg)
	if err != nil {
		logging.Fatalf("Failed to build router: %v", err)
	}

	// Chat rounds stream from several models, so writes get a longer bound
	// than the per-call timeout
	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Chat.CallTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.Infof("LLM Evaluator listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Infof("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("Server forced to shutdown: %v", err)
	}
	stop()

	// Flushes buffered generation logs to S3, then closes Redis and the database
	if err := deps.Close(shutdownCtx); err != nil {
		logging.Errorf("Failed to release dependencies: %v", err)
	}

	logging.Infof("Server exited")
}
