package api

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orbitviz/internal/auth"
	"github.com/star/orbitviz/internal/health"
	"github.com/star/orbitviz/internal/httputil"
	"github.com/star/orbitviz/internal/metrics"
	"github.com/star/orbitviz/internal/session"
	"github.com/star/orbitviz/internal/stream"
	"github.com/star/orbitviz/internal/tle"
)

// Config holds HTTP server settings.
type Config struct {
	Addr       string
	AssetDir   string // served under /data/ (earth.jpg, tle.txt)
	TrustProxy bool
	Auth       auth.Config
	Stream     stream.Config
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	sessions   *session.Manager
	config     Config
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. web holds the embedded page.
func NewServer(config Config, store *tle.Store, sessions *session.Manager, web fs.FS, logger *slog.Logger) *Server {
	s := &Server{
		sessions: sessions,
		config:   config,
		logger:   logger,
	}

	config.Stream.TrustProxy = config.TrustProxy
	streamHandler := stream.NewHandler(s.animatorFor, config.Stream, logger.With("component", "stream"))

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(store))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/satellites", s.handleSatellites)
	mux.HandleFunc("PUT /api/v1/selection", s.handleSetSelection)
	mux.HandleFunc("POST /api/v1/selection/{index}", s.handleToggle)
	mux.HandleFunc("PUT /api/v1/mode", s.handleSetMode)
	mux.HandleFunc("GET /api/v1/view", s.handleView)
	mux.HandleFunc("GET /api/v1/chart.svg", s.handleChartSVG)
	mux.HandleFunc("GET /api/v1/groundtrack.geojson", s.handleGroundTrack)
	mux.HandleFunc("GET /api/v1/stream/scene", streamHandler.HandleScene)

	if config.AssetDir != "" {
		mux.Handle("GET /data/", http.StripPrefix("/data/", http.FileServer(http.Dir(config.AssetDir))))
	}
	if web != nil {
		mux.Handle("GET /", http.FileServerFS(web))
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(config.Auth)(handler)
	handler = loggingMiddleware(logger, config.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second, // SSE clears this per connection
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
