// Package server exposes docbridge over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wuyou/docbridge/internal/editor"
	"github.com/wuyou/docbridge/internal/journal"
	"github.com/wuyou/docbridge/internal/logger"
)

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Documents Documents
	Callbacks Callbacks
	Editor    *editor.Builder
	Journal   journal.Journal
	Store     Pinger
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
	Logger  *logger.Logger
}

// Options tune the listener.
type Options struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
	CORSOrigins    []string
}

// Server wraps the http.Server and its router.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// New wires the router.
func New(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewRouter(deps, opts),
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		},
		log: deps.Logger,
	}
}

// NewRouter builds the chi router for deps.
func NewRouter(deps Deps, opts Options) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultUploadSize
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &Handler{
		docs:           deps.Documents,
		callbacks:      deps.Callbacks,
		editor:         deps.Editor,
		journal:        deps.Journal,
		store:          deps.Store,
		maxUploadBytes: opts.MaxUploadBytes,
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api/onlyoffice", func(r chi.Router) {
		r.Post("/upload", h.upload)
		r.Post("/callback", h.callback)
		r.Delete("/delete/{fileKey}", h.delete)
		r.Get("/files", h.list)
		r.Get("/editor/{fileKey}", h.editorConfig)
		r.Get("/callbacks/{fileKey}", h.callbackHistory)
	})

	return r
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.InfoWith("server listening", map[string]interface{}{"addr": s.srv.Addr})
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones, which
// includes saves started by callbacks.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
