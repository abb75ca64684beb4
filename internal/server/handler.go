// Package server is the admin HTTP surface of the verbose GC daemon.
package server

import (
	"errors"
	"io"
	"net/http"

	"vgclog/internal/metrics"
	"vgclog/internal/output"
	"vgclog/internal/verbose"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// maxBodySize bounds admin request bodies.
const maxBodySize = 4 << 10

// Verbose is the part of verbose.Manager the admin surface drives.
type Verbose interface {
	Configure(spec output.Spec) error
	Enable() error
	Disable()
	LastRecord() (output.Record, bool)
	Status() verbose.Status
}

type Handler struct {
	verbose Verbose
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewHandler(v Verbose, m *metrics.Metrics, log zerolog.Logger) *Handler {
	return &Handler{verbose: v, metrics: m, log: log}
}

// Routes registers every endpoint:
//
//	GET  /health
//	GET  /metrics
//	GET  /verbose/status
//	GET  /verbose/last
//	POST /verbose/configure   {"target":..., "files":..., "cycles":...}
//	POST /verbose/enable
//	POST /verbose/disable
//
// POST endpoints accept loopback and private callers only.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /metrics", h.HandleMetrics)
	mux.HandleFunc("GET /verbose/status", h.HandleStatus)
	mux.HandleFunc("GET /verbose/last", h.HandleLast)
	mux.HandleFunc("POST /verbose/configure", h.admin(h.HandleConfigure))
	mux.HandleFunc("POST /verbose/enable", h.admin(h.HandleEnable))
	mux.HandleFunc("POST /verbose/disable", h.admin(h.HandleDisable))
	return mux
}

// admin refuses callers from public addresses.
func (h *Handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !trustedCaller(r) {
			h.log.Warn().Str("client", clientIP(r)).Str("path", r.URL.Path).Msg("admin request refused")
			writeError(w, http.StatusForbidden, "admin endpoints are restricted to local callers")
			return
		}
		next(w, r)
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// HandleMetrics prints every counter as name=value lines.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.verbose.Status())
}

// HandleLast returns the last cycle delivered to subscribers.
func (h *Handler) HandleLast(w http.ResponseWriter, _ *http.Request) {
	rec, ok := h.verbose.LastRecord()
	if !ok {
		writeError(w, http.StatusNotFound, "no cycle recorded")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type configureRequest struct {
	Target string `json:"target"`
	Files  int    `json:"files"`
	Cycles int    `json:"cycles"`
}

// HandleConfigure changes the active sink.
//
//   - 400: malformed body or unknown sink
//   - 503: neither the sink nor the stderr fallback could be opened
//   - 200: the resulting status; a file request that fell back to stderr
//     still succeeds and shows up in the agent list
func (h *Handler) HandleConfigure(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Files < 0 || req.Cycles < 0 {
		writeError(w, http.StatusBadRequest, "files and cycles must be >= 0")
		return
	}

	spec := output.Spec{Target: req.Target, Files: req.Files, Cycles: req.Cycles}
	if err := h.verbose.Configure(spec); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, output.ErrUnknownSink):
			status = http.StatusBadRequest
		case errors.Is(err, verbose.ErrNoSink):
			status = http.StatusServiceUnavailable
		}
		h.log.Warn().Err(err).Str("target", req.Target).Msg("configure rejected")
		writeError(w, status, err.Error())
		return
	}

	h.log.Info().Str("target", req.Target).Int("files", req.Files).Int("cycles", req.Cycles).
		Str("client", clientIP(r)).Msg("verbose sink configured")
	writeJSON(w, http.StatusOK, h.verbose.Status())
}

func (h *Handler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	if err := h.verbose.Enable(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info().Str("client", clientIP(r)).Msg("verbose gc enabled")
	writeJSON(w, http.StatusOK, h.verbose.Status())
}

func (h *Handler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	h.verbose.Disable()
	h.log.Info().Str("client", clientIP(r)).Msg("verbose gc disabled")
	writeJSON(w, http.StatusOK, h.verbose.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
