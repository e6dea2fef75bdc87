// Package api exposes the mission's read-only REST surface: the status
// snapshot and the recorded telemetry history.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/ascent-controller/internal/logging"
	"github.com/signalsfoundry/ascent-controller/internal/mission"
	"github.com/signalsfoundry/ascent-controller/internal/telemetry"
)

// MissionSource is what the API reads from. *mission.Controller satisfies it.
type MissionSource interface {
	Status() mission.Status
	History() *telemetry.History
}

// Option customises the router.
type Option func(*handler)

// WithMetrics mounts a Prometheus handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(a *handler) { a.metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(a *handler) {
		if l != nil {
			a.logger = l
		}
	}
}

type handler struct {
	source  MissionSource
	metrics http.Handler
	logger  logging.Logger
}

// NewRouter builds the REST router.
func NewRouter(source MissionSource, opts ...Option) *mux.Router {
	h := &handler{source: source, logger: logging.Noop()}
	for _, opt := range opts {
		opt(h)
	}

	router := mux.NewRouter()
	router.Use(h.cors, h.logRequests)
	router.HandleFunc("/mission/status", h.status).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/mission/samples", h.samples).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/mission/summary", h.summary).Methods(http.MethodGet, http.MethodOptions)
	if h.metrics != nil {
		router.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}
	return router
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Status())
}

// samples returns the ordered history, optionally only the samples strictly
// after ?since=<ut>.
func (h *handler) samples(w http.ResponseWriter, r *http.Request) {
	history := h.source.History()
	raw := r.URL.Query().Get("since")
	if raw == "" {
		writeJSON(w, http.StatusOK, history.Samples())
		return
	}
	since, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		http.Error(w, "Invalid since parameter", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, history.Since(since))
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.History().Summarize())
}

func (h *handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug(r.Context(), "http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
