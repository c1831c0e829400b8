package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/canopy-chat/canopy/internal/autosave"
	"github.com/canopy-chat/canopy/internal/branch"
	"github.com/canopy-chat/canopy/internal/graph"
	"github.com/canopy-chat/canopy/internal/storage"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server is the HTTP gesture surface the rendering surface talks to.
type Server struct {
	store      *graph.Store
	controller *branch.Controller
	durable    *storage.Storage
	saver      *autosave.Scheduler
	sse        *SSEBroadcaster
	mux        *http.ServeMux
	server     *http.Server

	// Navigation focus is explicit session state owned here, fed into the
	// pure navigation functions and written back from their results.
	navMu   sync.Mutex
	focusID string

	greeting string

	gestureLimiter *rate.Limiter
}

// NewServer creates a Server wired to its collaborators. saver may be nil
// (no autosave); sse may be nil (one is created).
func NewServer(store *graph.Store, controller *branch.Controller, durable *storage.Storage, saver *autosave.Scheduler, sse *SSEBroadcaster, greeting string) *Server {
	if sse == nil {
		sse = NewSSEBroadcaster()
	}
	s := &Server{
		store:      store,
		controller: controller,
		durable:    durable,
		saver:      saver,
		sse:        sse,
		mux:        http.NewServeMux(),
		greeting:   greeting,
	}

	// Rate limiter for high-frequency gesture endpoints (drag moves,
	// viewport pans): 200 events/sec, burst 1000. Per-server, sufficient
	// for a single-user canvas.
	s.gestureLimiter = rate.NewLimiter(rate.Limit(200), 1000)

	return s
}

// RegisterRoutes wires up every API endpoint.
func (s *Server) RegisterRoutes() {
	// -- Branch gestures --------------------------------------------------
	s.mux.HandleFunc("POST /api/graph/branch", s.handleBranch)
	s.mux.HandleFunc("POST /api/graph/submit", s.handleSubmit)
	s.mux.HandleFunc("POST /api/graph/cancel", s.handleCancel)

	// -- Canvas gestures (rate-limited: fired continuously during drags) --
	s.mux.HandleFunc("POST /api/graph/move",
		s.withRateLimit(s.gestureLimiter, s.handleMove))
	s.mux.HandleFunc("POST /api/graph/viewport",
		s.withRateLimit(s.gestureLimiter, s.handleViewport))
	s.mux.HandleFunc("POST /api/graph/label", s.handleLabel)
	s.mux.HandleFunc("POST /api/graph/reset", s.handleReset)

	// -- Graph reads ------------------------------------------------------
	s.mux.HandleFunc("GET /api/graph", s.handleGraph)
	s.mux.HandleFunc("GET /api/graph/node/", s.handleGraphNode)
	s.mux.HandleFunc("GET /api/graph/context/", s.handleContext)
	s.mux.HandleFunc("GET /api/graph/stats", s.handleGraphStats)

	// -- Navigation -------------------------------------------------------
	s.mux.HandleFunc("POST /api/nav", s.handleNavigate)

	// -- Persistence ------------------------------------------------------
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("GET /api/export/clipboard", s.handleExportClipboard)
	s.mux.HandleFunc("POST /api/import", s.handleImport)

	// -- SSE event stream -------------------------------------------------
	s.mux.HandleFunc("GET /api/events", s.handleSSE)

	// -- Health check -----------------------------------------------------
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the fully-wrapped http.Handler (middleware chain + mux).
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = recoveryMiddleware(h)
	h = loggingMiddleware(h)
	h = corsMiddleware(h)
	return h
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Focus session
// ---------------------------------------------------------------------------

// Focus returns the current navigation focus.
func (s *Server) Focus() string {
	s.navMu.Lock()
	defer s.navMu.Unlock()
	return s.focusID
}

// setFocus records the navigation focus.
func (s *Server) setFocus(id string) {
	s.navMu.Lock()
	s.focusID = id
	s.navMu.Unlock()
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "canopy",
	})
}

// ---------------------------------------------------------------------------
// JSON response helpers
// ---------------------------------------------------------------------------

// writeJSON writes an arbitrary value as JSON with the given HTTP status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a standardised JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON parses a request body into dst with a size cap.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY",
			"request body is not valid JSON: "+err.Error())
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware allows requests from localhost dev servers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "http://localhost:5173"
		}

		if strings.HasPrefix(origin, "http://localhost:") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures the status code written by downstream handlers.
// It also implements http.Flusher so SSE streaming works through the
// logging middleware.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher by delegating to the underlying writer.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// loggingMiddleware logs method, path, duration and status code.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware catches panics and returns a 500 response.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				slog.Error("panic recovered",
					"error", err,
					"stack", string(stack),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"error":"internal server error"}`)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withRateLimit wraps a handler with a token-bucket rate limiter.
// Returns 429 when the limiter is exhausted.
// NOTE: this is a per-server limiter (not per-IP).
func (s *Server) withRateLimit(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limit exceeded","retry_after_ms":1000}`)
			slog.Warn("rate limit exceeded",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			return
		}
		next(w, r)
	}
}
