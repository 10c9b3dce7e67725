// Package main provides the custodian gateway entry point.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nodevault/custodian/internal/runtime"
)

func main() {
	// Best-effort: a missing .env is normal in production where the
	// environment is already populated by the platform.
	_ = godotenv.Load()

	app, err := runtime.New()
	if err != nil {
		log.Fatalf("failed to initialize custodian: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	runErr := app.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	if runErr != nil {
		log.Fatalf("custodian exited: %v", runErr)
	}
}
