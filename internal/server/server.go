// Package server exposes the control-plane API and the read-only reporting
// endpoints as JSON over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hazz-dev/beacon/internal/check"
	"github.com/hazz-dev/beacon/internal/control"
	"github.com/hazz-dev/beacon/internal/storage"
)

// Controller is the control-plane surface the server fronts.
type Controller interface {
	Create(ctx context.Context, c *check.Check) (*check.Check, error)
	Get(ctx context.Context, id int64) (*check.Check, error)
	List(ctx context.Context, enabled bool, limit int) ([]*check.Check, error)
	ListResults(ctx context.Context, id int64, limit int) ([]check.Result, error)
	Delete(ctx context.Context, id int64) (*check.Check, error)
	Enable(ctx context.Context, id int64) (*check.Check, error)
	Disable(ctx context.Context, id int64) error
	Snapshot() []int64
}

// ReportStore defines the read-only queries the reporting endpoints need.
type ReportStore interface {
	AllChecks(ctx context.Context) ([]*check.Check, error)
	LastResult(ctx context.Context, checkID int64) (*check.Result, error)
	UptimePercent(ctx context.Context, checkID int64, last int) (float64, error)
	Ping(ctx context.Context) error
}

// Server holds the chi router and its dependencies.
type Server struct {
	ctrl   Controller
	store  ReportStore
	router chi.Router
	log    *zap.Logger
}

// New creates a Server and registers all routes. Pass nil logger to discard
// logs.
func New(ctrl Controller, store ReportStore, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		ctrl:   ctrl,
		store:  store,
		router: chi.NewRouter(),
		log:    log,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/checks", s.handleCreate)
		r.Get("/checks", s.handleList)
		r.Get("/checks/{id}", s.handleGet)
		r.Delete("/checks/{id}", s.handleDelete)
		r.Post("/checks/{id}/enable", s.handleEnable)
		r.Post("/checks/{id}/disable", s.handleDisable)
		r.Get("/checks/{id}/results", s.handleResults)

		r.Get("/summary", s.handleSummary)
		r.Get("/health", s.handleHealth)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

// --- Wire shapes ---

// Envelope wraps every response body.
type Envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// CheckPayload is the wire form of a check definition.
type CheckPayload struct {
	ID          int64  `json:"id"`
	Name        string `json:"name,omitempty"`
	Kind        string `json:"kind"`
	Target      string `json:"target"`
	IntervalSec int64  `json:"interval_sec"`
	Enabled     bool   `json:"enabled"`
}

// ResultPayload is the wire form of an execution result.
type ResultPayload struct {
	ID        int64  `json:"id"`
	CheckID   int64  `json:"check_id"`
	StartedAt string `json:"started_at"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Pass      bool   `json:"pass"`
	Message   string `json:"message,omitempty"`
}

// SummaryEntry reports one check's latest state.
type SummaryEntry struct {
	CheckPayload
	Status        string  `json:"status"`
	LastChecked   string  `json:"last_checked,omitempty"`
	ElapsedMs     int64   `json:"elapsed_ms"`
	UptimePercent float64 `json:"uptime_percent"`
	Message       string  `json:"message,omitempty"`
}

func toCheckPayload(c *check.Check) CheckPayload {
	return CheckPayload{
		ID:          c.ID,
		Name:        c.Name,
		Kind:        string(c.Kind),
		Target:      c.Target,
		IntervalSec: int64(c.Interval / time.Second),
		Enabled:     c.Enabled,
	}
}

func toResultPayload(r *check.Result) ResultPayload {
	return ResultPayload{
		ID:        r.ID,
		CheckID:   r.CheckID,
		StartedAt: r.StartedAt.UTC().Format(time.RFC3339Nano),
		ElapsedMs: r.Elapsed.Milliseconds(),
		Pass:      r.Pass,
		Message:   r.Message,
	}
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Data: raw})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Error: msg})
}

// writeControlError maps the control-plane error taxonomy onto status codes.
func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, control.ErrAlreadyRunning), errors.Is(err, control.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, control.ErrInvalidCheck):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("control operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// --- Control handlers ---

type createRequest struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Target      string `json:"target"`
	IntervalSec int64  `json:"interval_sec"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c := &check.Check{
		Name:     req.Name,
		Kind:     check.Kind(req.Kind),
		Target:   req.Target,
		Interval: time.Duration(req.IntervalSec) * time.Second,
	}
	created, err := s.ctrl.Create(r.Context(), c)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckPayload(created))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid check id")
		return
	}
	c, err := s.ctrl.Get(r.Context(), id)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckPayload(c))
}

const maxLimit = 1000

func limitParam(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	enabled := true
	if v := r.URL.Query().Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid enabled parameter")
			return
		}
		enabled = b
	}
	limit, ok := limitParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}

	checks, err := s.ctrl.List(r.Context(), enabled, limit)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	out := make([]CheckPayload, 0, len(checks))
	for _, c := range checks {
		out = append(out, toCheckPayload(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid check id")
		return
	}
	c, err := s.ctrl.Delete(r.Context(), id)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckPayload(c))
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid check id")
		return
	}
	c, err := s.ctrl.Enable(r.Context(), id)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckPayload(c))
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid check id")
		return
	}
	if err := s.ctrl.Disable(r.Context(), id); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid check id")
		return
	}
	limit, ok := limitParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}

	results, err := s.ctrl.ListResults(r.Context(), id, limit)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	out := make([]ResultPayload, 0, len(results))
	for i := range results {
		out = append(out, toResultPayload(&results[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Reporting handlers ---

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	checks, err := s.store.AllChecks(r.Context())
	if err != nil {
		s.log.Error("summary: listing checks", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]SummaryEntry, 0, len(checks))
	for _, c := range checks {
		e := SummaryEntry{
			CheckPayload: toCheckPayload(c),
			Status:       "unknown",
		}
		last, err := s.store.LastResult(r.Context(), c.ID)
		if err != nil {
			s.log.Error("summary: latest result", zap.Int64("check_id", c.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if last != nil {
			if last.Pass {
				e.Status = "pass"
			} else {
				e.Status = "fail"
			}
			e.LastChecked = last.StartedAt.UTC().Format(time.RFC3339Nano)
			e.ElapsedMs = last.Elapsed.Milliseconds()
			e.Message = last.Message
			pct, _ := s.store.UptimePercent(r.Context(), c.ID, 100)
			e.UptimePercent = pct
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"active_checks": len(s.ctrl.Snapshot()),
	})
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
