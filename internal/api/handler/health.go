package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/service"
)

// HealthHandler exposes Kubernetes-style liveness and readiness endpoints.
type HealthHandler struct {
	storage service.Storage
}

func NewHealthHandler(storage service.Storage) *HealthHandler {
	return &HealthHandler{storage: storage}
}

// Live always reports OK – if the process is up, it's live.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports every backend and fails only when none can serve.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()

	backends := make(map[string]string)
	for _, b := range h.storage.Backends() {
		if err := b.Ping(ctx); err != nil {
			backends[b.Name()] = "down"
			continue
		}
		backends[b.Name()] = "up"
	}

	active, err := h.storage.Active(ctx)
	if err != nil {
		RespondError(w, r, http.StatusServiceUnavailable, "storage/unavailable", "no storage backend available")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"active":   active.Name(),
		"backends": backends,
	})
}
