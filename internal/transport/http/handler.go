// Package httptransport is the thin HTTP layer over the permission service.
// Handlers decode, delegate and translate errors; lifecycle rules live in the
// service and the transition table, never here.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gridpass/internal/eventstore"
	"gridpass/internal/permission"
	"gridpass/internal/permission/service"
	"gridpass/internal/platform/middleware"
	"gridpass/internal/timeframe"
	"gridpass/pkg/platform/sentinel"
)

// dateLayout is the wire format for window boundaries; permissions are
// requested in whole days.
const dateLayout = "2006-01-02"

// Lifecycle is the slice of the permission service the transport needs.
type Lifecycle interface {
	Create(ctx context.Context, req service.CreateRequest) (permission.Projection, error)
	Send(ctx context.Context, permissionID string) error
	Acknowledge(ctx context.Context, permissionID string) error
	ReceiveResponse(ctx context.Context, correlationID string, outcome permission.Kind, message string) (string, error)
	DataReceived(ctx context.Context, permissionID, meterID string, window permission.Window) error
	Revoke(ctx context.Context, permissionID string) error
	Terminate(ctx context.Context, permissionID string) error
	Projection(ctx context.Context, permissionID string) (permission.Projection, error)
	Events(ctx context.Context, permissionID string) ([]eventstore.StoredEvent, error)
}

type Handler struct {
	lifecycle  Lifecycle
	timeframes *timeframe.Service
	log        *slog.Logger
}

func NewHandler(lifecycle Lifecycle, timeframes *timeframe.Service, log *slog.Logger) *Handler {
	return &Handler{lifecycle: lifecycle, timeframes: timeframes, log: log}
}

// Register wires the permission routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/permissions", h.handleCreate)
	r.Get("/permissions/{id}", h.handleGet)
	r.Get("/permissions/{id}/events", h.handleEvents)
	r.Get("/permissions/{id}/timeframes", h.handleTimeframes)
	r.Post("/permissions/{id}/send", h.handleSend)
	r.Post("/permissions/{id}/ack", h.handleAcknowledge)
	r.Post("/permissions/{id}/data-received", h.handleDataReceived)
	r.Post("/permissions/{id}/revoke", h.handleRevoke)
	r.Post("/permissions/{id}/terminate", h.handleTerminate)
	r.Post("/callbacks/{correlationId}", h.handleCallback)
}

type createRequest struct {
	ConnectorID   string `json:"connectorId"`
	ConnectionID  string `json:"connectionId"`
	DataNeedID    string `json:"dataNeedId"`
	CorrelationID string `json:"correlationId"`
	DataFrom      string `json:"dataFrom"`
	DataTo        string `json:"dataTo,omitempty"`
	Granularity   string `json:"granularity"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid request body"))
		return
	}
	window, err := parseWindow(req.DataFrom, req.DataTo)
	if err != nil {
		h.writeError(w, r, badRequest(err.Error()))
		return
	}

	proj, err := h.lifecycle.Create(r.Context(), service.CreateRequest{
		ConnectorID:   req.ConnectorID,
		ConnectionID:  req.ConnectionID,
		DataNeedID:    req.DataNeedID,
		CorrelationID: req.CorrelationID,
		Window:        window,
		Granularity:   permission.Granularity(req.Granularity),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, proj)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	proj, err := h.lifecycle.Projection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, proj)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.lifecycle.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	type eventView struct {
		Seq        int64     `json:"seq"`
		Kind       string    `json:"kind"`
		OccurredAt time.Time `json:"occurredAt"`
		Message    string    `json:"message,omitempty"`
	}
	views := make([]eventView, len(events))
	for i, ev := range events {
		views[i] = eventView{
			Seq:        ev.Seq,
			Kind:       string(ev.Kind),
			OccurredAt: ev.OccurredAt,
			Message:    ev.Message,
		}
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleTimeframes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Resolve first so an unknown id answers 404, not an empty list.
	if _, err := h.lifecycle.Projection(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	frames, err := h.timeframes.TimeframesFor(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, frames)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.lifecycle.Send)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.lifecycle.Acknowledge)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.lifecycle.Revoke)
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.lifecycle.Terminate)
}

func (h *Handler) simpleTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	if err := op(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type dataReceivedRequest struct {
	MeterID string `json:"meterId"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

func (h *Handler) handleDataReceived(w http.ResponseWriter, r *http.Request) {
	var req dataReceivedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid request body"))
		return
	}
	window, err := parseWindow(req.Start, req.End)
	if err != nil {
		h.writeError(w, r, badRequest(err.Error()))
		return
	}
	if err := h.lifecycle.DataReceived(r.Context(), chi.URLParam(r, "id"), req.MeterID, window); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type callbackRequest struct {
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// handleCallback is the entry point for administrator responses that arrive
// correlated by the conversation id issued at creation time.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid request body"))
		return
	}
	permissionID, err := h.lifecycle.ReceiveResponse(
		r.Context(),
		chi.URLParam(r, "correlationId"),
		permission.Kind(req.Outcome),
		req.Message,
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"permissionId": permissionID})
}

func parseWindow(from, to string) (permission.Window, error) {
	if from == "" {
		return permission.Window{}, fmt.Errorf("dataFrom is required")
	}
	start, err := time.ParseInLocation(dateLayout, from, time.UTC)
	if err != nil {
		return permission.Window{}, fmt.Errorf("dataFrom must be a %s date", dateLayout)
	}
	window := permission.Window{Start: start}
	if to != "" {
		end, err := time.ParseInLocation(dateLayout, to, time.UTC)
		if err != nil {
			return permission.Window{}, fmt.Errorf("dataTo must be a %s date", dateLayout)
		}
		window.End = &end
	}
	return window, nil
}

type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func badRequest(message string) error {
	return &httpError{status: http.StatusBadRequest, message: message}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var httpErr *httpError
	var transitionErr *permission.TransitionError
	switch {
	case errors.As(err, &httpErr):
		status = httpErr.status
		message = httpErr.message
	case errors.As(err, &transitionErr):
		status = http.StatusConflict
		message = transitionErr.Error()
	case errors.Is(err, sentinel.ErrNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, sentinel.ErrConflict):
		status = http.StatusConflict
		message = err.Error()
	}

	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}
