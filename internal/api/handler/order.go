package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ayo6706/payorder-gateway/internal/api/middleware"
	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxOrderBody = 4 << 20

// OrderHandler serves the merchant order API.
type OrderHandler struct {
	orders *service.OrderService
	bulk   *middleware.BulkLimiter
}

func NewOrderHandler(orders *service.OrderService, bulk *middleware.BulkLimiter) *OrderHandler {
	return &OrderHandler{orders: orders, bulk: bulk}
}

// Create handles POST /v1/orders/{merchantPublicId}. The body may be one
// order, an array of orders, or an object with an orders array.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOrderBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondError(w, r, http.StatusRequestEntityTooLarge, "request/body-too-large", "request body too large")
			return
		}
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}
	reqs, batch, err := service.DecodeOrders(body)
	if err != nil {
		RespondServiceError(w, r, "decode orders", err)
		return
	}
	if len(reqs) > h.orders.Cap() {
		RespondServiceError(w, r, "create orders", fmt.Errorf("%w: %d orders, limit %d", service.ErrBatchTooLarge, len(reqs), h.orders.Cap()))
		return
	}
	if len(reqs) > 1 && h.bulk.Reject(w, r, sess.Merchant.ID) {
		return
	}

	clientIP := middleware.ClientIP(r)
	if !batch {
		view, err := h.orders.Create(r.Context(), sess, clientIP, reqs[0])
		if err != nil {
			RespondServiceError(w, r, "create order", err)
			return
		}
		RespondJSON(w, http.StatusOK, Envelope{Success: true, Message: "order created", Data: view})
		return
	}

	res, err := h.orders.CreateBatch(r.Context(), sess, clientIP, reqs)
	if err != nil {
		RespondServiceError(w, r, "create orders", err)
		return
	}
	msg := "all orders created"
	if !res.Success {
		msg = fmt.Sprintf("%d of %d orders failed", res.Summary.FailureCount, res.Summary.Total)
	}
	RespondJSON(w, http.StatusOK, Envelope{Success: res.Success, Message: msg, Results: res.Results, Summary: res.Summary})
}

// List handles GET /v1/orders/{merchantPublicId}.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	kind := domain.OrderKind(r.URL.Query().Get("orderType"))
	views, err := h.orders.List(r.Context(), sess, kind, limit)
	if err != nil {
		RespondServiceError(w, r, "list orders", err)
		return
	}
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Data: views})
}

// Get handles GET /v1/orders/{merchantPublicId}/{orderId}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	view, err := h.orders.Get(r.Context(), sess, chi.URLParam(r, "orderId"))
	if err != nil {
		RespondServiceError(w, r, "get order", err)
		return
	}
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Data: view})
}

// PaymentLink handles GET /v1/pay/{token} for encoded payment links.
func (h *OrderHandler) PaymentLink(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.ResolvePaymentLink(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		RespondServiceError(w, r, "resolve payment link", err)
		return
	}
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Data: view})
}
