package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/payorder-gateway/internal/api/problem"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Envelope is the success body shared by every JSON endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Results any    `json:"results,omitempty"`
	Summary any    `json:"summary,omitempty"`
}

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondServiceError maps service and storage errors to problem responses.
// op names the failed operation in logs.
func RespondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		problem.WriteDetails(w, r, problem.Details{
			Type:   problem.Type("orders/validation"),
			Status: http.StatusBadRequest,
			Detail: verr.Message,
			Field:  verr.Field,
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrUnauthorized):
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-api-key", "invalid merchant or api key")
	case errors.Is(err, service.ErrInvalidLogin):
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-login", err.Error())
	case errors.Is(err, service.ErrIPNotAllowed):
		RespondError(w, r, http.StatusForbidden, "orders/ip-not-allowed", err.Error())
	case errors.Is(err, service.ErrNotAssigned):
		RespondError(w, r, http.StatusForbidden, "withdrawals/not-assigned", err.Error())
	case errors.Is(err, models.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "orders/not-found", "order not found")
	case errors.Is(err, service.ErrInvalidPaymentLink):
		RespondError(w, r, http.StatusNotFound, "orders/invalid-payment-link", err.Error())
	case errors.Is(err, service.ErrBatchTooLarge):
		RespondError(w, r, http.StatusRequestEntityTooLarge, "orders/batch-too-large", err.Error())
	case errors.Is(err, service.ErrEmptyBatch),
		errors.Is(err, service.ErrInvalidDecision),
		errors.Is(err, service.ErrNotWithdrawal):
		RespondError(w, r, http.StatusBadRequest, "request/invalid", err.Error())
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrStatusConflict):
		RespondError(w, r, http.StatusConflict, "orders/status-conflict", err.Error())
	case errors.Is(err, models.ErrStorageUnavailable):
		RespondError(w, r, http.StatusServiceUnavailable, "storage/unavailable", "storage temporarily unavailable, retry later")
	case errors.Is(err, models.ErrConcurrencyExhausted):
		zap.L().Error(op+" failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "ledger/concurrency-exhausted", "balance update failed, order cancelled")
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error(op+" failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", op+" failed")
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case pgerrcode.ForeignKeyViolation:
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case pgerrcode.CheckViolation:
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case pgerrcode.NotNullViolation:
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
