package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/primeinvest/backend/internal/models"
	"github.com/primeinvest/backend/internal/services"
)

type ApprovalHandler struct {
	approvals *services.ApprovalService
	policies  *services.PolicyService
}

func NewApprovalHandler(approvals *services.ApprovalService, policies *services.PolicyService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals, policies: policies}
}

// Approve moves a pending or processing transaction to approved.
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	approver, _ := r.Context().Value("adminID").(string)

	tx, err := h.approvals.Approve(r.Context(), chi.URLParam(r, "id"), approver)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Reject moves a pending or processing transaction to rejected. A reason is
// mandatory and is stored on the record.
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	tx, err := h.approvals.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Cancel voids a transaction that has not reached a terminal state.
func (h *ApprovalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tx, err := h.approvals.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// RunAutoApproval triggers one scheduler tick on demand.
func (h *ApprovalHandler) RunAutoApproval(w http.ResponseWriter, r *http.Request) {
	approved, err := h.approvals.RunAutoApproval(r.Context(), time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approved": approved,
	})
}

// GetPolicy returns the active approval policy.
func (h *ApprovalHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policies.Get(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// UpdatePolicy replaces the approval policy.
func (h *ApprovalHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy models.ApprovalPolicy

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&policy); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	updated, err := h.policies.Update(r.Context(), &policy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
