/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the HTTP surface, catalog, and player into one
// process and owns their lifecycles.
package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/wrenlabs/bassline/internal/api"
	"github.com/wrenlabs/bassline/internal/config"
	"github.com/wrenlabs/bassline/internal/db"
	"github.com/wrenlabs/bassline/internal/events"
	"github.com/wrenlabs/bassline/internal/library"
	"github.com/wrenlabs/bassline/internal/media"
	"github.com/wrenlabs/bassline/internal/platform"
	"github.com/wrenlabs/bassline/internal/playback"
	"github.com/wrenlabs/bassline/internal/telemetry"
)

// Server owns every long-lived component of the bassline process.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	router     chi.Router
	httpServer *http.Server

	database *gorm.DB
	bus      *events.Bus
	metrics  *telemetry.Metrics
	store    *library.Store
	scanner  *library.Scanner
	watcher  *library.Watcher
	mediaSvc *media.Service
	player   *playback.Orchestrator

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	closers  []func() error
}

// New constructs the server and wires dependencies. The platform decides how
// audio is actually rendered; tests inject a fake.
func New(cfg *config.Config, pf platform.Platform, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	// Websockets and audio streams outlive any sensible request timeout.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" || strings.HasPrefix(r.URL.Path, "/api/v1/stream/") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(pf); err != nil {
		return nil, err
	}

	router.Use(srv.metrics.HTTPMiddleware)
	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler: srv.router,
		// Header deadline protects against slowloris; no full write deadline
		// so long audio streams are not cut off.
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies(pf platform.Platform) error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.database = database
	s.DeferClose(func() error { return db.Close(database) })

	store, err := library.NewStore(database, s.logger)
	if err != nil {
		return err
	}
	s.store = store

	s.metrics = telemetry.New()
	s.mediaSvc = media.NewService(s.cfg.MusicDirs, s.cfg.ArtCacheDir, s.metrics, s.logger)
	s.scanner = library.NewScanner(store, s.cfg.MusicDirs, s.cfg.ArtCacheDir, s.cfg.ScanWorkers, s.bus, s.metrics, s.logger)

	if s.cfg.WatchEnabled {
		s.watcher = library.NewWatcher(s.scanner, s.cfg.WatchDebounce, s.logger)
	}

	player, err := playback.NewOrchestrator(pf, s.bus, s.metrics, rand.New(rand.NewSource(time.Now().UnixNano())), playback.Options{
		AutoplayRetryDelay: s.cfg.AutoplayRetry,
		AnalyzerTick:       s.cfg.AnalyzerTick,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("build player: %w", err)
	}
	s.player = player
	s.DeferClose(func() error {
		player.Close()
		return nil
	})

	return nil
}

func (s *Server) configureRoutes() {
	apiHandler := api.New(s.store, s.mediaSvc, s.player, s.scanner, s.bus, s.metrics, s.cfg.StatePushPeriod, s.logger)
	apiHandler.Routes(s.router)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Initial scan fills the catalog before the first client asks for it.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if _, err := s.scanner.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("initial library scan failed")
		}
	}()

	if s.watcher != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("library watcher exited")
			}
		}()
	}

	if s.cfg.MetricsBind != "" {
		metricsServer := &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           s.metrics.Handler(),
			ReadHeaderTimeout: 15 * time.Second,
		}
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics listener exited")
			}
		}()
		s.DeferClose(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router exposes the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Player exposes the playback orchestrator.
func (s *Server) Player() *playback.Orchestrator {
	return s.player
}

// Bus exposes the process event bus.
func (s *Server) Bus() *events.Bus {
	return s.bus
}

// Scanner exposes the library scanner.
func (s *Server) Scanner() *library.Scanner {
	return s.scanner
}

// Store exposes the track catalog.
func (s *Server) Store() *library.Store {
	return s.store
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.bgWG.Wait()

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self' 'unsafe-inline' data: blob:; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests actually served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
