// Package api exposes the risk engine over HTTP for callers that already
// hold price or return tables.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"crypto-risk/internal/config"
	"crypto-risk/internal/db"
	"crypto-risk/internal/engine"
	"crypto-risk/internal/logger"
)

// maxBodyBytes caps request bodies; a few years of daily prices for a
// hundred assets fits comfortably.
const maxBodyBytes = 8 << 20

// Server is the HTTP API server that connects the optimizer, the run history
// database and the metrics registry.
type Server struct {
	cfg       *config.Config
	db        *db.DB
	optimizer *engine.Optimizer
	metrics   *Metrics
	validate  *validator.Validate
	log       *logrus.Entry
	version   string
	started   time.Time
}

// NewServer creates a Server. database may be nil, in which case the
// history endpoints answer 503 and runs are not recorded.
func NewServer(cfg *config.Config, database *db.DB, version string) *Server {
	log := logger.L().WithField("component", "api")
	return &Server{
		cfg:       cfg,
		db:        database,
		optimizer: engine.NewOptimizer(log, cfg.OptimizerOptions()...),
		metrics:   NewMetrics(),
		validate:  newValidator(),
		log:       log,
		version:   version,
		started:   time.Now(),
	}
}

// Handler returns the HTTP handler with all API routes and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.metrics.instrument(pattern, h))
	}
	route("GET /api/status", s.handleStatus)
	route("GET /api/config", s.handleGetConfig)
	route("POST /api/analyze", s.handleAnalyze)
	route("POST /api/optimize", s.handleOptimize)
	route("POST /api/frontier", s.handleFrontier)
	route("GET /api/history", s.handleGetHistory)
	route("GET /api/history/{id}", s.handleGetHistoryByID)
	route("DELETE /api/history", s.handleClearHistory)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return corsMiddleware(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusFor maps engine sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrOptimizationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrInvalidParameter),
		errors.Is(err, engine.ErrMissingWeight):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, code, err.Error())
}

// decode reads a JSON body into v and runs struct validation.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_without":
		return "one of prices or returns is required"
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a YYYY-MM-DD date", fe.Field())
	}
	return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result := map[string]interface{}{
		"status":         "ok",
		"app":            s.cfg.App.Name,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"db":             s.db != nil,
	}
	if s.db != nil {
		result["schema_version"] = s.db.SchemaVersion()
	}
	writeJSON(w, result)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := *s.cfg
	if cfg.API.Key != "" {
		cfg.API.Key = "***"
	}
	writeJSON(w, cfg)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "history database not configured")
		return
	}
	limit := 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	runs, err := s.db.GetRuns(limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleGetHistoryByID(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "history database not configured")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	run, err := s.db.GetRunByID(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "history database not configured")
		return
	}
	days := 0
	if v := r.URL.Query().Get("older_than_days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "older_than_days must be a non-negative integer")
			return
		}
		days = d
	}
	n, err := s.db.ClearRuns(days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]int64{"deleted": n})
}

// recordRun stores an API optimization in the run history when a database
// is attached. Failures are logged, never returned.
func (s *Server) recordRun(command string, res engine.OptimizationResult, assets int, elapsed time.Duration, params any) {
	if s.db == nil {
		return
	}
	_, err := s.db.InsertRun(db.RunRecord{
		Command:        command,
		Portfolio:      "api",
		Assets:         assets,
		Objective:      string(res.Objective),
		ExpectedReturn: res.ExpectedReturn,
		Volatility:     res.Volatility,
		Sharpe:         res.Sharpe,
		DurationMs:     elapsed.Milliseconds(),
	}, params, weightsJSON(res.Weights))
	if err != nil {
		s.log.WithError(err).Warn("record run")
	}
}
