package handler

import (
	"net/http"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/api/middleware"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"go.uber.org/zap"
)

type AuthHandler struct {
	auth     *service.Authenticator
	tokenTTL time.Duration
}

func NewAuthHandler(auth *service.Authenticator, tokenTTL time.Duration) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &AuthHandler{auth: auth, tokenTTL: tokenTTL}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	StaffID   string    `json:"staffId"`
	Role      string    `json:"role"`
}

// Login handles POST /v1/staff/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "username and password are required")
		return
	}

	staff, err := h.auth.Staff(r.Context(), req.Username, req.Password)
	if err != nil {
		RespondServiceError(w, r, "staff login", err)
		return
	}

	token, exp, err := middleware.IssueToken(staff, h.tokenTTL)
	if err != nil {
		zap.L().Error("issue staff token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-failed", "Failed to sign token")
		return
	}
	zap.L().Info("staff logged in", zap.String("staff_id", staff.ID), zap.String("role", staff.Role))
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Data: loginResponse{
		Token:     token,
		ExpiresAt: exp,
		StaffID:   staff.ID,
		Role:      staff.Role,
	}})
}
