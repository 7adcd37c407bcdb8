package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"parking-slots-backend/internal/api"
	"parking-slots-backend/internal/auth"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the notification workers and the reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath)
		},
	}
}

func serve(configPath string) error {
	// Setup logger
	logger := log.New(os.Stdout, "parkd ", log.LstdFlags)

	a, err := newApp(configPath, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or JWT_SECRET) must be configured")
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.workers.Start(ctx)
	logger.Printf("notification worker pool started with %d workers", a.cfg.WorkerPool.Size)

	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		if err := a.reconciler.Run(ctx); err != nil {
			logger.Printf("ERROR: reconciler stopped: %v", err)
		}
	}()

	handler := api.NewHandler(a.registry, a.bookings, a.reconciler, a.store, a.webpush)
	router := api.NewRouter(a.cfg.Server, handler, auth.NewVerifier(a.cfg.Auth.JWTSecret))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("HTTP server starting on port %d", a.cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Println("Shutdown signal received, stopping services...")
	case err := <-serverErr:
		cancel()
		<-reconcilerDone
		return fmt.Errorf("HTTP server ListenAndServe: %w", err)
	}

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server Shutdown: %w", err)
	}

	cancel()
	<-reconcilerDone

	logger.Println("Server gracefully stopped")
	return nil
}
