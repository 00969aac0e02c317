// Package api serves the read-only operational HTTP surface: health, the
// live trigger registry and recent delivery outcomes. Reminder and channel
// management happen elsewhere.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wuchris-ch/notification-app/internal/domain"
	"github.com/wuchris-ch/notification-app/internal/registry"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// healthTimeout bounds each component check of a verbose /health.
const healthTimeout = 3 * time.Second

type Store interface {
	ListDeliveryLogs(ctx context.Context, reminderID int64, limit, offset int) ([]domain.DeliveryLog, error)
	PingContext(ctx context.Context) error
}

// JobLister exposes the registered triggers.
type JobLister interface {
	Entries() []registry.EntryInfo
}

// HealthChecker reports whether an optional dependency is reachable.
type HealthChecker func(ctx context.Context) error

type Handler struct {
	store    Store
	jobs     JobLister
	checkers map[string]HealthChecker
	metrics  http.Handler
	path     string
	logger   *zap.Logger
}

func NewHandler(store Store, jobs JobLister) *Handler {
	return &Handler{
		store:    store,
		jobs:     jobs,
		checkers: make(map[string]HealthChecker),
		logger:   zap.NewNop(),
	}
}

func (h *Handler) WithLogger(logger *zap.Logger) *Handler {
	h.logger = logger.Named("api")
	return h
}

// WithHealthChecker adds a named component to verbose /health responses.
// The store is always reported as "database".
func (h *Handler) WithHealthChecker(name string, check HealthChecker) *Handler {
	h.checkers[name] = check
	return h
}

// WithMetricsHandler mounts a metrics exposition handler at path.
func (h *Handler) WithMetricsHandler(path string, handler http.Handler) *Handler {
	h.path = path
	h.metrics = handler
	return h
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", h.health)
	r.Get("/jobs", h.listJobs)
	r.Get("/reminders/{id}/deliveries", h.listDeliveries)

	if h.metrics != nil {
		r.Handle(h.path, h.metrics)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("verbose") != "true" {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	check := func(name string, fn HealthChecker) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
			return
		}
		resp.Components[name] = "healthy"
	}

	check("database", h.store.PingContext)

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check(name, h.checkers[name])
	}

	resp.Components["registry"] = strconv.Itoa(len(h.jobs.Entries())) + " jobs"

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries := h.jobs.Entries()
	resp := ListJobsResponse{Total: len(entries), Jobs: []JobResponse{}}
	if offset < len(entries) {
		end := offset + limit
		if end > len(entries) {
			end = len(entries)
		}
		for _, e := range entries[offset:end] {
			resp.Jobs = append(resp.Jobs, newJobResponse(e))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid reminder id")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := h.store.ListDeliveryLogs(r.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("list deliveries failed", zap.Int64("reminder_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}

	resp := ListDeliveriesResponse{Deliveries: make([]DeliveryResponse, len(logs))}
	for i, l := range logs {
		resp.Deliveries[i] = DeliveryResponse{
			ID:         l.ID,
			ReminderID: l.ReminderID,
			ChannelID:  l.ChannelID,
			FiringID:   l.FiringID.String(),
			FiredAt:    formatTime(l.FiredAt),
			Status:     string(l.Status),
			Detail:     l.Detail,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if s := r.URL.Query().Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
