package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"hls-relay/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// tuneFailedBody is the response body when a channel cannot be relayed.
const tuneFailedBody = "failed to collect the stream"

// Handler exposes orchestrator HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Tune handles GET|POST /channels/{service_id}/tune[?kbps=N].
// On success the client is redirected to the local stream URL.
func (h *Handler) Tune(w http.ResponseWriter, r *http.Request) {
	serviceID := ServiceID(chi.URLParam(r, "service_id"))
	if serviceID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	kbps := 0
	if v := r.URL.Query().Get("kbps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.log.Debug("invalid kbps", slog.String("kbps", v))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		kbps = n
	}

	sess, err := h.svc.Tune(r.Context(), serviceID, kbps)
	if err != nil {
		h.log.Warn("tune request failed",
			slog.String("service_id", string(serviceID)),
			slog.String("error", err.Error()))
		http.Error(w, tuneFailedBody, http.StatusBadGateway)
		return
	}

	http.Redirect(w, r, sess.StreamURL, http.StatusFound)
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.svc.Sessions()); err != nil {
		h.log.Error("encode sessions failed", slog.String("error", err.Error()))
	}
}

// GetManifest handles GET /sessions/{id}/manifest.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "id"))
	text, ok := h.svc.Manifest(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

// StopSession handles DELETE /sessions/{id}.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "id"))
	err := h.svc.StopSession(r.Context(), id)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		w.WriteHeader(http.StatusNotFound)
	case err != nil:
		h.log.Error("stop session failed", slog.String("session_id", string(id)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	default:
		h.log.Info("session stopped", slog.String("session_id", string(id)))
		w.WriteHeader(http.StatusNoContent)
	}
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// Routes mounts the handlers on r. tuneMiddleware wraps only the tune
// endpoints, which switch the TV server's tuner.
func (h *Handler) Routes(r chi.Router, tuneMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/healthz", h.Healthz)
	r.Route("/channels/{service_id}", func(r chi.Router) {
		r.Use(tuneMiddleware...)
		r.Get("/tune", h.Tune)
		r.Post("/tune", h.Tune)
	})
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Get("/{id}/manifest", h.GetManifest)
		r.Delete("/{id}", h.StopSession)
	})
}
