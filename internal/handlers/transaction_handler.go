package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/primeinvest/backend/internal/models"
	"github.com/primeinvest/backend/internal/services"
)

type TransactionHandler struct {
	service *services.TransactionService
}

func NewTransactionHandler(service *services.TransactionService) *TransactionHandler {
	return &TransactionHandler{service: service}
}

// writeServiceError maps service errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	if _, ok := services.AsValidationError(err); ok {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	switch {
	case errors.Is(err, services.ErrNotFound):
		services.SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrInvalidState):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, services.ErrConflict):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	default:
		log.Printf("[HANDLER] Internal error: %v", err)
		services.SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// Create opens a new deposit or withdrawal request.
func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var params services.CreateTransactionParams

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&params); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	tx, err := h.service.Create(r.Context(), params)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// Get returns one transaction by id.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// List returns transactions matching the query filters, oldest first.
// Filters: q (substring), status, direction, channel.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := services.ListFilter{
		Search:        r.URL.Query().Get("q"),
		PayoutChannel: r.URL.Query().Get("channel"),
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.Status(raw)
		if !status.Valid() {
			services.SendErrorResponse(w, "Unknown status filter", http.StatusBadRequest, nil)
			return
		}
		filter.Status = &status
	}

	if raw := r.URL.Query().Get("direction"); raw != "" {
		direction := models.Direction(raw)
		if !direction.Valid() {
			services.SendErrorResponse(w, "Unknown direction filter", http.StatusBadRequest, nil)
			return
		}
		filter.Direction = &direction
	}

	txs, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// Summary returns the stat-card totals for one direction.
func (h *TransactionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	direction := models.Direction(r.URL.Query().Get("direction"))
	if !direction.Valid() {
		services.SendErrorResponse(w, "direction query parameter must be deposit or withdrawal", http.StatusBadRequest, nil)
		return
	}

	summary, err := h.service.Summary(r.Context(), direction)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GatewayFailure records a processor-reported error on a transaction without
// changing its status. Wired to the gateway's failure webhook.
func (h *TransactionHandler) GatewayFailure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		services.SendErrorResponse(w, "A failure message is required", http.StatusBadRequest, nil)
		return
	}

	if err := h.service.RecordGatewayFailure(r.Context(), chi.URLParam(r, "id"), "gateway: "+req.Message); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Failure recorded"})
}
