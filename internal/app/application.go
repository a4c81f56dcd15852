// Package app wires the components together and runs the server
// lifecycle. Initialization order follows the dependency chain:
// store → matching → booking → stats → registry → router → hub →
// websocket handler → HTTP server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"focusmate/internal/api"
	"focusmate/internal/config"
	"focusmate/internal/hub"
	"focusmate/internal/matching"
	"focusmate/internal/router"
	"focusmate/internal/session"
	"focusmate/internal/stats"
	"focusmate/internal/store"
	"focusmate/internal/video"
	"focusmate/internal/websocket"
	"focusmate/pkg/interfaces"
)

// Application owns every long-lived component of the service.
type Application struct {
	config     *config.Config
	store      *store.Store
	sessions   *session.Service
	stats      *stats.Service
	registry   *websocket.Registry
	router     *router.Router
	hub        *hub.Hub
	httpServer *http.Server
}

// New builds the full component graph from configuration.
func New(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.NewStore(cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	matcher := matching.NewEngine(st, matching.DefaultPolicy())
	sessions := session.NewService(st, matcher)
	statsSvc := stats.NewService(st, cfg.StatsLocation())

	var attacher interfaces.VideoAttacher
	if cfg.Video.BaseURL != "" {
		attacher = video.NewAttacher(cfg.Video.BaseURL)
	} else {
		log.Println("app: no video base URL configured, sessions run without video")
	}

	registry := websocket.NewRegistry()
	msgRouter := router.NewRouter(registry, st)
	sessionHub := hub.NewHub(registry, msgRouter, st, attacher, statsSvc)
	wsHandler := websocket.NewHandler(registry, sessions, st, sessionHub)

	apiServer := api.NewServer(sessions, statsSvc, st, registry, st,
		http.HandlerFunc(wsHandler.HandleJoin))

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      st,
		sessions:   sessions,
		stats:      statsSvc,
		registry:   registry,
		router:     msgRouter,
		hub:        sessionHub,
		httpServer: httpServer,
	}, nil
}

// Start launches the hub and the HTTP listener. The brief startup probe
// catches an address already in use before Start reports success.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("app: starting on %s", app.httpServer.Addr)

	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Println("app: started")
		return nil
	case <-ctx.Done():
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts everything down in reverse dependency order:
// HTTP listener, hub, store.
func (app *Application) Stop(ctx context.Context) error {
	log.Println("app: shutting down")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("app: HTTP shutdown: %v", err)
	}
	if err := app.hub.Stop(); err != nil {
		log.Printf("app: hub shutdown: %v", err)
	}
	if err := app.store.Close(); err != nil {
		log.Printf("app: store shutdown: %v", err)
	}

	log.Println("app: shutdown complete")
	return nil
}

// Addr returns the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
