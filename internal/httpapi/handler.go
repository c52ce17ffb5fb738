package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"qms/queue-ticketing/internal/models"
	"qms/queue-ticketing/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// QueueService is the set of queue operations exposed over HTTP.
type QueueService interface {
	ClaimQueue(ctx context.Context) (service.Assignment, error)
	ReleaseQueue(ctx context.Context, queueNumber int, counterID int64) error
	GetCurrentQueues(ctx context.Context, includeInactive bool) ([]models.CounterSnapshot, error)
	NextQueue(ctx context.Context, counterID int64) (service.Assignment, error)
	SkipQueue(ctx context.Context, counterID int64) (service.SkipResult, error)
	ResetQueues(ctx context.Context, counterID *int64) (service.ResetResult, error)
	SearchQueue(ctx context.Context, query string) ([]service.QueueEntry, error)
	GetAllQueues(ctx context.Context) ([]service.QueueEntry, error)
	GetMetrics(ctx context.Context) (models.Metrics, error)
}

type Handler struct {
	svc    QueueService
	logger *zap.Logger
}

type envelope struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Field   string      `json:"field,omitempty"`
}

type releaseRequest struct {
	QueueNumber int   `json:"queue_number"`
	CounterID   int64 `json:"counter_id"`
}

type counterRequest struct {
	CounterID int64 `json:"counter_id"`
}

type resetRequest struct {
	CounterID *int64 `json:"counter_id"`
}

func NewHandler(svc QueueService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Route("/api/queues", func(r chi.Router) {
		r.Get("/", h.handleAllQueues)
		r.Post("/claim", h.handleClaim)
		r.Post("/release", h.handleRelease)
		r.Get("/current", h.handleCurrent)
		r.Post("/next", h.handleNext)
		r.Post("/skip", h.handleSkip)
		r.Post("/reset", h.handleReset)
		r.Get("/search", h.handleSearch)
		r.Get("/metrics", h.handleMetrics)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ClaimQueue(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, service.MsgClaimed, result)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.svc.ReleaseQueue(r.Context(), req.QueueNumber, req.CounterID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, service.MsgReleased, nil)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	snapshots, err := h.svc.GetCurrentQueues(r.Context(), includeInactive)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, service.MsgCurrent, snapshots)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	var req counterRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.svc.NextQueue(r.Context(), req.CounterID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, service.MsgNextCalled, result)
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req counterRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.svc.SkipQueue(r.Context(), req.CounterID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if result.Next == nil {
		writeSuccess(w, http.StatusOK, result.Message, nil)
		return
	}
	writeSuccess(w, http.StatusOK, result.Message, result.Next)
}

// handleReset accepts an empty body, which resets every active counter.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, envelope{Message: "Invalid JSON payload"})
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		r.Body = io.NopCloser(bytes.NewReader(body))
		if !decodeRequest(w, r, &req) {
			return
		}
	}
	result, err := h.svc.ResetQueues(r.Context(), req.CounterID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, result.Message, nil)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeEnvelope(w, http.StatusBadRequest, envelope{Message: "Query parameter 'q' is required"})
		return
	}
	entries, err := h.svc.SearchQueue(r.Context(), query)
	if err != nil {
		var svcErr *service.Error
		if errors.As(err, &svcErr) && service.IsNotFound(err) {
			writeEnvelope(w, http.StatusOK, envelope{Message: svcErr.Message})
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, service.MsgFound, entries)
}

func (h *Handler) handleAllQueues(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.GetAllQueues(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, service.MsgAllQueues, entries)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.svc.GetMetrics(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, service.MsgMetrics, metrics)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeEnvelope(w, http.StatusBadRequest, envelope{Message: "Invalid JSON payload"})
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, env := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	writeEnvelope(w, status, env)
}

func mapError(err error) (int, envelope) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		return http.StatusInternalServerError, envelope{Message: "Internal server error"}
	}
	env := envelope{Message: svcErr.Message, Field: svcErr.Field}
	switch {
	case service.IsBadRequest(err):
		return http.StatusBadRequest, env
	case service.IsNotFound(err):
		return http.StatusNotFound, env
	default:
		return http.StatusInternalServerError, envelope{Message: "Internal server error"}
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeEnvelope(w, status, envelope{Status: true, Message: strings.TrimSpace(message), Data: data})
}

func writeEnvelope(w http.ResponseWriter, status int, payload envelope) {
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
