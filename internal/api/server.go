// Package api exposes the gallery engine over HTTP: typed huma operations
// under /api/v1, an SSE event stream, health and Prometheus metrics.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/promptshelf/promptshelf-server/internal/observability"
	"github.com/promptshelf/promptshelf-server/internal/ratelimit"
	"github.com/promptshelf/promptshelf-server/internal/sse"
	"github.com/promptshelf/promptshelf-server/internal/store"
)

// Version is reported in the OpenAPI document.
const Version = "1.0.0"

// Options holds the optional collaborators of a Server.
type Options struct {
	SSEManager     *sse.Manager
	Metrics        *observability.Metrics
	JobLimiter     *ratelimit.KeyedRateLimiter
	Objects        http.Handler // serves stored payloads; nil disables the route
	ObjectsBaseURL string
	AllowedOrigins []string
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store      *store.Store
	services   *Services
	sseManager *sse.Manager
	metrics    *observability.Metrics
	limiter    *ratelimit.KeyedRateLimiter
	router     *chi.Mux
	api        huma.API
	logger     *slog.Logger
	now        func() time.Time
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(s *store.Store, services *Services, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		store:      s,
		services:   services,
		sseManager: opts.SSEManager,
		metrics:    opts.Metrics,
		limiter:    opts.JobLimiter,
		router:     chi.NewRouter(),
		logger:     logger,
		now:        time.Now,
	}

	srv.setupMiddleware(opts.AllowedOrigins)

	humaConfig := huma.DefaultConfig("PromptShelf API", Version)
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	srv.api = humachi.New(srv.router, humaConfig)
	RegisterErrorHandler()

	srv.registerHealthRoutes()
	srv.registerImageRoutes()
	srv.registerBackupRoutes()
	srv.registerCategoryRoutes()
	srv.registerJobRoutes()

	if opts.SSEManager != nil {
		srv.router.Get("/api/v1/events", srv.instrumentSSE(sse.NewHandler(opts.SSEManager, logger)))
	}
	if opts.Metrics != nil {
		srv.router.Handle("/metrics", opts.Metrics.Handler())
	}
	if opts.Objects != nil && opts.ObjectsBaseURL != "" {
		srv.router.Handle(opts.ObjectsBaseURL+"/*", opts.Objects)
	}

	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, mainly for tests.
func (s *Server) API() huma.API {
	return s.api
}

func (s *Server) setupMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTP.Middleware)
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
}

// requestLogger logs one line per request with the chi request ID.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) instrumentSSE(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.metrics != nil {
			s.metrics.HTTP.SSEConnected(1)
			defer s.metrics.HTTP.SSEConnected(-1)
		}
		h.ServeHTTP(w, r)
	}
}
