// Package httpapi exposes the engine over HTTP: task submission and
// control, history/batch queries, and a live SSE event stream, wired
// through chi and huma.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/brightwavehq/streamfetch/internal/engine"
)

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns conservative listener timeouts.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8090,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server wires the engine into a chi router and a huma API on top of it.
type Server struct {
	config     ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router, middleware chain, and huma API, and
// registers every handler group against eng.
func NewServer(config ServerConfig, eng *engine.Engine, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(RequestID)
	router.Use(Logging(logger))
	router.Use(Recovery(logger))
	router.Use(CORS())
	router.Use(skipCompressionForSSE(chimiddleware.Compress(5)))

	humaConfig := huma.DefaultConfig("streamfetch API", version)
	humaConfig.Info.Description = "Segmented media download engine: task submission, control, history, and live progress."
	api := humachi.New(router, humaConfig)

	s := &Server{config: config, router: router, api: api, logger: logger}

	taskHandler := &taskHandler{engine: eng}
	taskHandler.Register(api)

	progressHandler := &progressHandler{engine: eng, heartbeatInterval: 15 * time.Second}
	progressHandler.RegisterSSE(router)

	(&healthHandler{}).Register(api)

	return s
}

// API exposes the underlying huma API for callers that want to register
// additional operations.
func (s *Server) API() huma.API { return s.api }

// Router exposes the underlying chi router.
func (s *Server) Router() *chi.Mux { return s.router }

// Start builds the net/http.Server and begins serving in the background.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:         s.address(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server exited", slog.Any("error", err))
		}
	}()
}

func (s *Server) address() string {
	return s.config.Host + ":" + strconv.Itoa(s.config.Port)
}

// Shutdown gracefully drains in-flight requests, bounded by the server's
// configured ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
