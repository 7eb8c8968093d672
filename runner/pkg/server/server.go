// Package server exposes live wallet state, ledger records and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/questrunner/runner/pkg/metrics"
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	router  *chi.Mux
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:    cfg.Logger,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.routes()

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(metricsMiddleware)

	s.router.Get("/healthz", s.healthz)
	s.router.Get("/version", s.version)
	s.router.Handle("/metrics", promhttp.Handler())

	limiter := newRateLimiter(s.cfg.Clock, rate.Every(time.Minute/time.Duration(s.cfg.RequestsPerMinute)), s.cfg.Burst)
	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit(limiter))
		r.Get("/wallets", s.listWallets)
		r.Get("/wallets/{address}/tasks", s.walletTasks)
		r.Get("/ledger", s.ledgerSummary)
	})
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}

func (s *Server) listWallets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Tracker.Snapshot())
}

func (s *Server) ledgerSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.cfg.Ledger.Wallets(r.Context())
	if err != nil {
		s.log.Error("server: failed to list ledger wallets", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

type taskRecord struct {
	Position  int       `json:"position"`
	Task      string    `json:"task"`
	Status    string    `json:"status"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) walletTasks(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	if !common.IsHexAddress(addr) {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	key := common.HexToAddress(addr).Hex()

	records, err := s.cfg.Ledger.Tasks(r.Context(), key)
	if err != nil {
		s.log.Error("server: failed to read wallet tasks", "address", key, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	if len(records) == 0 {
		s.writeError(w, http.StatusNotFound, "no plan for wallet")
		return
	}

	out := make([]taskRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, taskRecord{
			Position:  rec.Position,
			Task:      rec.TaskName,
			Status:    string(rec.Status),
			Failures:  rec.Failures,
			LastError: rec.LastError,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"address": key,
		"plan_id": records[0].PlanID,
		"tasks":   out,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.log.Error("server: failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

