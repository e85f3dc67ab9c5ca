package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskd/deskd/internal/archive"
	"github.com/deskd/deskd/internal/config"
	"github.com/deskd/deskd/internal/engine"
	"github.com/deskd/deskd/internal/hub"
	"github.com/deskd/deskd/internal/sandbox"
	"github.com/deskd/deskd/internal/service"
	"github.com/deskd/deskd/internal/store"
	transporthttp "github.com/deskd/deskd/internal/transport/http"
	"github.com/deskd/deskd/internal/transport/ws"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting deskd...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Runner URL: %s", cfg.RunnerURL)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Sandbox backend is optional; sessions fall back to the shared
	// environment when the Docker daemon is unreachable.
	var backend sandbox.Backend
	dockerBackend, err := sandbox.NewDockerBackend(cfg.SandboxImage, cfg.SandboxWidth, cfg.SandboxHeight)
	if err != nil {
		log.Printf("WARN: sandbox backend unavailable, sessions use fallback environment: %v", err)
	} else {
		backend = dockerBackend
		defer dockerBackend.Close()
	}
	sandboxes := sandbox.NewManager(backend, cfg.FallbackDisplayPort, cfg.FallbackControlPort)

	eventArchive := archive.New(context.Background(), cfg.MongoURI, cfg.MongoDatabase)
	if eventArchive.Enabled() {
		log.Printf("Event archive enabled (db: %s)", cfg.MongoDatabase)
	}

	broadcastHub := hub.New()
	runner := engine.NewClient(cfg.RunnerURL, cfg.APIKey, cfg.TurnTimeout)
	svc := service.New(db, broadcastHub, sandboxes, runner, eventArchive, cfg)

	streamServer := ws.NewServer(cfg, svc)
	server := transporthttp.NewServer(svc, streamServer)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down deskd...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("deskd stopped")
}
