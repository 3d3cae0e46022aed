package handler

import (
	"net/http"

	"github.com/ayo6706/payorder-gateway/internal/api/middleware"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"github.com/go-chi/chi/v5"
)

// StaffHandler serves the withdrawal dashboard.
type StaffHandler struct {
	withdrawals *service.WithdrawalService
}

func NewStaffHandler(withdrawals *service.WithdrawalService) *StaffHandler {
	return &StaffHandler{withdrawals: withdrawals}
}

// Processors handles GET /v1/staff/processors.
func (h *StaffHandler) Processors(w http.ResponseWriter, r *http.Request) {
	loads, err := h.withdrawals.Processors(r.Context())
	if err != nil {
		RespondServiceError(w, r, "list processors", err)
		return
	}
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Data: loads})
}

type readyRequest struct {
	Ready *bool `json:"ready"`
}

// SetReady handles PUT /v1/staff/me/ready.
func (h *StaffHandler) SetReady(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req readyRequest
	if err := decodeJSON(r, &req); err != nil || req.Ready == nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "ready must be a boolean")
		return
	}
	if err := h.withdrawals.SetReady(r.Context(), actor, *req.Ready); err != nil {
		RespondServiceError(w, r, "set ready", err)
		return
	}
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Data: map[string]bool{"ready": *req.Ready}})
}

// Withdrawals handles GET /v1/staff/withdrawals. Admins may pass all=1.
func (h *StaffHandler) Withdrawals(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	all := r.URL.Query().Get("all") == "1"
	orders, err := h.withdrawals.Pending(r.Context(), actor, all)
	if err != nil {
		RespondServiceError(w, r, "list withdrawals", err)
		return
	}
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Data: orders})
}

type resolveRequest struct {
	Decision service.Decision `json:"decision"`
	Reason   string           `json:"reason"`
}

// Resolve handles POST /v1/staff/withdrawals/{orderId}/resolve.
func (h *StaffHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	order, err := h.withdrawals.Resolve(r.Context(), service.ResolveRequest{
		OrderID:  chi.URLParam(r, "orderId"),
		Decision: req.Decision,
		Reason:   req.Reason,
		Actor:    actor,
	})
	if err != nil {
		RespondServiceError(w, r, "resolve withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Message: "withdrawal " + string(order.Status), Data: order})
}

// Reassign handles POST /v1/staff/withdrawals/reassign.
func (h *StaffHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	summary, err := h.withdrawals.Reassign(r.Context())
	if err != nil {
		RespondServiceError(w, r, "reassign withdrawals", err)
		return
	}
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Data: summary})
}
