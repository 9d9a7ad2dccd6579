// Package server exposes a small internal-only diagnostics HTTP
// surface: a health check, subscription-manager counters, and a
// read-only debug snapshot per display. It is not part of the
// renderer's own transport — displays still get their data over the
// feed package's websocket, this is purely for operators.
//
// Grounded on the teacher's internal/server package: chi.Mux plus
// go-chi/cors middleware setup (server.go), the health/status handler
// shape (handlers.go, system_handlers.go), and gopsutil-based CPU/RAM
// sampling in getSystemStats.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/visualrange-engine/internal/display"
	"github.com/aristath/visualrange-engine/internal/feed"
)

// DisplayRegistry is the subset of a display-owning component the
// debug endpoints need: look up one display's owner by id, or list
// every currently live display id.
type DisplayRegistry interface {
	Lookup(displayID string) (*display.Owner, bool)
	DisplayIDs() []string
}

// Config configures the diagnostics server.
type Config struct {
	Port      int
	Log       zerolog.Logger
	Manager   *feed.Manager
	Displays  DisplayRegistry
	StartedAt time.Time
	DevMode   bool
}

// Server is a thin chi router plus an http.Server wrapper, started and
// stopped independently of the feed/display lifecycle it reports on.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	manager   *feed.Manager
	displays  DisplayRegistry
	startedAt time.Time
}

// New builds a Server from cfg. Call Start to begin listening.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "diagnostics_server").Logger(),
		manager:   cfg.Manager,
		displays:  cfg.Displays,
		startedAt: cfg.StartedAt,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(10 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept"},
		MaxAge:         300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/metrics", s.handleMetrics)
		r.Get("/displays", s.handleListDisplays)
		r.Get("/displays/{displayID}/snapshot", s.handleDisplaySnapshot)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("diagnostics request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode diagnostics response")
	}
}

// Start begins listening. Blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting diagnostics server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("stopping diagnostics server")
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status    string  `json:"status"`
	UptimeSec float64 `json:"uptime_seconds"`
	CPUPct    float64 `json:"cpu_percent"`
	MemPct    float64 `json:"mem_percent"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := s.systemStats()
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		UptimeSec: time.Since(s.startedAt).Seconds(),
		CPUPct:    cpuPct,
		MemPct:    memPct,
	})
}

// systemStats samples CPU/RAM over a short window — short enough that
// operators polling this endpoint every few seconds don't stack up
// concurrent samples, per the teacher's own 100ms rationale.
func (s *Server) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to sample cpu percent")
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to sample memory")
		return valueOrZero(cpuPercent), 0
	}
	return valueOrZero(cpuPercent), memStat.UsedPercent
}

func valueOrZero(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[0]
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		s.writeJSON(w, http.StatusOK, feed.Metrics{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.manager.Metrics())
}

func (s *Server) handleListDisplays(w http.ResponseWriter, r *http.Request) {
	if s.displays == nil {
		s.writeJSON(w, http.StatusOK, []string{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.displays.DisplayIDs())
}

func (s *Server) handleDisplaySnapshot(w http.ResponseWriter, r *http.Request) {
	displayID := chi.URLParam(r, "displayID")
	if s.displays == nil {
		http.Error(w, "no display registry configured", http.StatusServiceUnavailable)
		return
	}
	owner, ok := s.displays.Lookup(displayID)
	if !ok {
		http.Error(w, "unknown display id", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, owner.DebugSnapshot())
}
