// Package http serves the monitoring surface: health, status, archived
// runs, Prometheus metrics and a websocket cycle stream. It is read-only;
// nothing here mutates trading state.
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/agent"
	"github.com/sentigrade/sentigrade/internal/persistence"
	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// Config holds server timeouts and the listen address.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators the server reads from. Nil members disable
// their endpoints.
type Deps struct {
	Metrics   *Metrics
	Hub       *Hub
	Archive   persistence.Archive
	Portfolio func() *portfolio.Portfolio
	Account   string
	Mode      string
	Version   string
}

// Server is the monitoring HTTP server. It also observes the agent to
// keep the latest cycle report on hand for /status.
type Server struct {
	config     Config
	deps       Deps
	router     *mux.Router
	server     *http.Server
	logger     zerolog.Logger
	startedAt  time.Time
	lastReport atomic.Value // agent.CycleReport
}

var _ agent.Observer = (*Server)(nil)

func New(config Config, deps Deps) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	server := &Server{
		config:    config,
		deps:      deps,
		router:    mux.NewRouter(),
		logger:    log.With().Str("component", "http").Logger(),
		startedAt: time.Now().UTC(),
	}
	server.setupRoutes()

	server.server = &http.Server{
		Addr:         config.Addr,
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return server
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// The websocket upgrade and the Prometheus exposition format bypass
	// the JSON middleware.
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}
	if s.deps.Hub != nil {
		s.router.Handle("/ws/cycles", s.deps.Hub).Methods("GET")
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/trades", s.handleRunTrades).Methods("GET")
	api.HandleFunc("/cycles", s.handleListCycles).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// OnCycle retains the newest report for /status.
func (s *Server) OnCycle(report agent.CycleReport) {
	s.lastReport.Store(report)
}

// Run serves until ctx is cancelled, then drains connections within the
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Msg("Monitoring server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down monitoring server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// healthResponse mirrors the shape scrapers expect: overall status plus
// one entry per dependency check.
type healthResponse struct {
	Status    string            `json:"status"` // ok | degraded
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Version:   s.deps.Version,
		Checks:    map[string]string{},
	}

	status := http.StatusOK
	if s.deps.Archive != nil {
		if err := s.deps.Archive.Ping(r.Context()); err != nil {
			response.Status = "degraded"
			response.Checks["archive"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response.Checks["archive"] = "ok"
		}
	}
	writeJSON(w, status, response)
}

type statusResponse struct {
	Account   string               `json:"account"`
	Mode      string               `json:"mode"`
	Version   string               `json:"version,omitempty"`
	StartedAt time.Time            `json:"started_at"`
	Uptime    string               `json:"uptime"`
	Cycles    map[string]float64   `json:"cycles,omitempty"`
	WSClients int                  `json:"ws_clients"`
	LastCycle *agent.CycleReport   `json:"last_cycle,omitempty"`
	Cash      *float64             `json:"cash,omitempty"`
	Positions []portfolio.Position `json:"positions,omitempty"`
	Archive   map[string]int64     `json:"archive,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := statusResponse{
		Account:   s.deps.Account,
		Mode:      s.deps.Mode,
		Version:   s.deps.Version,
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
	}

	if report, ok := s.lastReport.Load().(agent.CycleReport); ok {
		response.LastCycle = &report
	}
	if s.deps.Metrics != nil {
		response.Cycles = map[string]float64{
			"clean":     s.deps.Metrics.CycleCount("clean"),
			"abandoned": s.deps.Metrics.CycleCount("abandoned"),
		}
	}
	if s.deps.Hub != nil {
		response.WSClients = s.deps.Hub.ClientCount()
	}
	if s.deps.Portfolio != nil {
		if snapshot := s.deps.Portfolio(); snapshot != nil {
			cash := snapshot.Cash
			response.Cash = &cash
			for _, asset := range snapshot.Assets() {
				response.Positions = append(response.Positions, *snapshot.Positions[asset])
			}
		}
	}
	if stats, ok := s.deps.Archive.(interface{ Stats() map[string]int64 }); ok {
		response.Archive = stats.Stats()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "archive disabled"})
		return
	}
	runs, err := s.deps.Archive.ListRuns(r.Context(), r.URL.Query().Get("account"), queryLimit(r, 20))
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "archive disabled"})
		return
	}
	run, err := s.deps.Archive.Run(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunTrades(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "archive disabled"})
		return
	}
	runID := mux.Vars(r)["id"]
	trades, err := s.deps.Archive.TradesByRun(r.Context(), runID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run_id": runID, "trades": trades, "count": len(trades)})
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "archive disabled"})
		return
	}
	account := r.URL.Query().Get("account")
	if account == "" {
		account = s.deps.Account
	}
	cycles, err := s.deps.Archive.RecentCycles(r.Context(), account, queryLimit(r, 50))
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"account": account, "cycles": cycles, "count": len(cycles)})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("Request handled")
	})
}

// corsMiddleware admits local dashboards only.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// responseWrapper captures the status code for request logging.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the websocket upgrade works behind the
// logging middleware.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
