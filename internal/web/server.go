package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hanifabd/rollcall/internal/attendance"
	"github.com/hanifabd/rollcall/internal/config"
	"github.com/hanifabd/rollcall/internal/enroll"
	"github.com/hanifabd/rollcall/internal/session"
	"github.com/hanifabd/rollcall/internal/storage"
	"github.com/hanifabd/rollcall/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	store      *storage.Store
	detector   session.Detector
	embedder   session.Embedder
	ledger     *attendance.Ledger
	enroller   *enroll.Enroller
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, store *storage.Store, detector session.Detector, embedder session.Embedder) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		router:   r,
		store:    store,
		detector: detector,
		embedder: embedder,
		ledger:   attendance.New(store),
		enroller: enroll.New(detector, embedder, cfg.Tuning),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.SecurityHeaders())

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
