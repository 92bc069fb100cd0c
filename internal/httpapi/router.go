// Package httpapi exposes the options-engine's HTTP surface: the quotable
// grid, contract submission and listing, portfolio delta, the analytics
// banner/highlights views, and health/metrics. Handlers are thin, each
// calls straight into the grid generator, underwriting gate, or contract
// store and serializes the result; the routing and wire shapes are the
// full extent of what this package owns.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optionsengine/internal/core"
)

// Server wires the gorilla/mux router and middleware chain around a
// Handlers implementation.
type Server struct {
	addr    string
	logger  core.ILogger
	hm      core.IHealthMonitor
	router  *mux.Router
	httpSrv *http.Server
}

// NewServer constructs the HTTP surface bound to addr (":8080"-style).
func NewServer(addr string, logger core.ILogger, hm core.IHealthMonitor, handlers *Handlers) *Server {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(logger))
	router.Use(jsonContentTypeMiddleware)

	router.HandleFunc("/optionsTable", handlers.OptionsTable).Methods(http.MethodGet)
	router.HandleFunc("/contract", handlers.SubmitContract).Methods(http.MethodPost)
	router.HandleFunc("/contracts", handlers.ListContracts).Methods(http.MethodGet)
	router.HandleFunc("/delta", handlers.PortfolioDelta).Methods(http.MethodGet)
	router.HandleFunc("/topBanner", handlers.TopBanner).Methods(http.MethodGet)
	router.HandleFunc("/marketHighlights", handlers.MarketHighlights).Methods(http.MethodGet)
	router.HandleFunc("/topGainers", handlers.TopGainers).Methods(http.MethodGet)
	router.HandleFunc("/topVolume", handlers.TopVolume).Methods(http.MethodGet)
	router.HandleFunc("/health", newHealthHandler(hm)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &Server{
		addr:   addr,
		logger: logger.WithField("component", "httpapi"),
		hm:     hm,
		router: router,
	}
}

// Start runs the HTTP server in a background goroutine.
func (s *Server) Start() {
	s.httpSrv = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", "error", err.Error())
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger core.ILogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", r.Context().Value(requestIDKey{}),
			)
		})
	}
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
