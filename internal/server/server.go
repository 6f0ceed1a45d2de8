package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kartoza/kickstarter-guide/internal/api"
	"github.com/kartoza/kickstarter-guide/internal/artifacts"
	"github.com/kartoza/kickstarter-guide/internal/config"
	"github.com/kartoza/kickstarter-guide/internal/logging"
	"github.com/kartoza/kickstarter-guide/internal/metrics"
	"github.com/kartoza/kickstarter-guide/internal/predict"
)

//go:embed static/*
var staticFS embed.FS

// Server holds all the components for the web application
type Server struct {
	cfg        config.Config
	httpServer *http.Server
	router     *mux.Router
	artifacts  *artifacts.Set
	predictor  api.Predictor
	pages      *pages
	registry   *prometheus.Registry
	log        *slog.Logger
}

// New loads the artifacts named by cfg and builds a server around them.
// Missing or corrupt artifacts are returned as an error.
func New(cfg config.Config) (*Server, error) {
	set, err := artifacts.Load(artifacts.PathsFrom(cfg.Artifacts))
	if err != nil {
		return nil, err
	}

	log := logging.New("server")
	if err := set.CheckWidths(); err != nil {
		log.Warn("artifact widths disagree, predictions will fail", "error", err)
	}

	registry := newRegistry()
	svc, err := predict.NewService(set.Model, set.Text, set.Quant,
		predict.WithCache(cfg.Cache.Size),
		predict.WithMetrics(metrics.New(registry)),
	)
	if err != nil {
		return nil, err
	}

	return NewWithPredictor(cfg, set, svc, registry)
}

// NewWithPredictor builds a server around an existing predictor.
// set may be nil when the predictor is not backed by on-disk artifacts.
func NewWithPredictor(cfg config.Config, set *artifacts.Set, p api.Predictor, registry *prometheus.Registry) (*Server, error) {
	pg, err := newPages()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	if registry == nil {
		registry = newRegistry()
	}

	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		artifacts: set,
		predictor: p,
		pages:     pg,
		registry:  registry,
		log:       logging.New("server"),
	}

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() error {
	s.router.Use(requestID, s.accessLog, s.recoverPanic)

	// API routes
	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiHandler := api.NewHandler(s.predictor, s.artifacts, s.cfg)
	apiHandler.RegisterRoutes(apiRouter)

	// Pages
	s.router.HandleFunc("/", s.handleHome).Methods("GET")
	s.router.HandleFunc("/about", s.handleAbout).Methods("GET")
	s.router.HandleFunc("/prediction", s.handlePredictionForm).Methods("GET")
	s.router.HandleFunc("/prediction", s.handlePrediction).Methods("POST")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")

	// Model artifact directory, served verbatim
	if s.cfg.Artifacts.Expose && s.cfg.Artifacts.Dir != "" {
		mount := s.cfg.Artifacts.MountPath + "/"
		s.router.PathPrefix(mount).Handler(
			http.StripPrefix(mount, http.FileServer(filesOnly{http.Dir(s.cfg.Artifacts.Dir)})))
	}

	// Embedded stylesheet and images
	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		return fmt.Errorf("loading embedded static files: %w", err)
	}
	s.router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.FS(staticContent))))

	// mux skips Use middleware when no route matches
	s.router.NotFoundHandler = requestID(s.accessLog(s.recoverPanic(http.HandlerFunc(s.handleNotFound))))
	return nil
}

// filesOnly hides directories so the artifact mount never renders a listing
type filesOnly struct {
	root http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

// ServeHTTP lets the server be used directly as an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins listening for HTTP connections
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.log.Info("server listening", "url", fmt.Sprintf("http://localhost:%d", s.cfg.Server.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}
