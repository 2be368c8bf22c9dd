package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/recovery"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/session"
)

// Handler serves the session REST surface.
type Handler struct {
	orch *session.Orchestrator
	rec  *recovery.Manager
	log  *slog.Logger
}

func New(orch *session.Orchestrator, rec *recovery.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, rec: rec, log: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", h.createSession)
		r.Get("/{sessionID}", h.getSession)
		r.Delete("/{sessionID}", h.endSession)
		r.Post("/{sessionID}/pause", h.pauseSession)
		r.Post("/{sessionID}/resume", h.resumeSession)
		r.Post("/{sessionID}/messages", h.postMessage)
		r.Get("/{sessionID}/transcript", h.getTranscript)
	})
	r.Get("/v1/recovery/metrics", h.getMetrics)
}

type createSessionRequest struct {
	LearnerID string `json:"learner_id"`
	Topic     string `json:"topic"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	sess, err := h.orch.StartSession(r.Context(), req.LearnerID, req.Topic)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.orch.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeErrorBody(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.EndSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pauseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orch.Pause(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) resumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orch.Resume(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type postMessageRequest struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	if req.Speaker == "" {
		req.Speaker = "student"
	}
	if err := h.orch.PublishText(chi.URLParam(r, "sessionID"), req.Text, req.Speaker); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) getTranscript(w http.ResponseWriter, r *http.Request) {
	items, ok := h.orch.Transcript(chi.URLParam(r, "sessionID"))
	if !ok {
		writeErrorBody(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) getMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"recovery": h.rec.Metrics(),
		"breaker":  h.rec.BreakerState(),
	})
}

// writeError maps domain errors onto HTTP statuses and a stable error
// envelope.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, session.ErrInvalidTransition):
		writeErrorBody(w, http.StatusConflict, "invalid_transition", err.Error())
	case core.IsKind(err, core.KindAlreadyActive):
		writeErrorBody(w, http.StatusConflict, string(core.KindAlreadyActive), err.Error())
	case core.IsKind(err, core.KindConfiguration):
		writeErrorBody(w, http.StatusBadRequest, string(core.KindConfiguration), err.Error())
	case core.IsKind(err, core.KindConnectionTimeout):
		writeErrorBody(w, http.StatusGatewayTimeout, string(core.KindConnectionTimeout), err.Error())
	case core.IsKind(err, core.KindNotConnected):
		writeErrorBody(w, http.StatusServiceUnavailable, string(core.KindNotConnected), err.Error())
	default:
		h.log.Error("request failed", "error", err)
		writeErrorBody(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeStrict(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "bad_request", "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":{"code":"internal","message":"encode failed"}}`, http.StatusInternalServerError)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	message = strings.TrimSpace(message)
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
