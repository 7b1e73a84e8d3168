package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/termgate/termgate/internal/config"
	"github.com/termgate/termgate/internal/gateway"
	"github.com/termgate/termgate/internal/handlers"
	"github.com/termgate/termgate/internal/logging"
	"github.com/termgate/termgate/internal/middleware"
	"github.com/termgate/termgate/internal/terminal"
)

func main() {
	config.Load()
	logging.Init()

	ctx := context.Background()

	gw, err := newGateway(ctx)
	if err != nil {
		log.Fatalf("Gateway init: %v", err)
	}
	log.Printf("Container gateway initialized (runtime=%s)", gw.Name())

	replaySize := config.Cfg.ReplayBufferBytes()
	registry := terminal.NewRegistry(config.Cfg.MaxSessions, config.Cfg.MaxSessionsPerContainer)
	handlers.Term = terminal.NewService(gw, registry, terminal.Options{
		Shell:      config.Cfg.ShellCommand,
		ReplaySize: replaySize,
	})
	log.Printf("Terminal service initialized (shell=%q, max_sessions=%d, per_container=%d, replay=%d bytes)",
		config.Cfg.ShellCommand, config.Cfg.MaxSessions, config.Cfg.MaxSessionsPerContainer, replaySize)

	reaper := terminal.NewReaper(handlers.Term, config.Cfg.CleanupInterval,
		config.Cfg.IdleTimeout, config.Cfg.HardTimeout)
	reaper.Start()
	log.Printf("Session reaper started (interval=%s, idle_timeout=%s, hard_timeout=%s)",
		config.Cfg.CleanupInterval, config.Cfg.IdleTimeout, config.Cfg.HardTimeout)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.Health)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireIdentity)

		r.Post("/containers/{ref}/sessions", handlers.OpenSession)
		r.Get("/containers/{ref}/sessions", handlers.ListSessions)
		r.Get("/containers/{ref}/terminal", handlers.TerminalWS)
		r.Delete("/sessions/{sessionId}", handlers.CloseSession)

		r.Get("/logs", handlers.Logs)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	reaper.Stop()
	handlers.Term.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func newGateway(ctx context.Context) (gateway.Gateway, error) {
	switch config.Cfg.Runtime {
	case "docker":
		return gateway.NewDocker(ctx, gateway.DockerOptions{
			Host:       config.Cfg.DockerHost,
			TLSCertDir: config.Cfg.DockerTLSCertDir,
		})
	case "kubernetes":
		return gateway.NewKubernetes(ctx, config.Cfg.K8sNamespace)
	default:
		return nil, fmt.Errorf("unknown runtime %q (want docker or kubernetes)", config.Cfg.Runtime)
	}
}
