package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/ayo6706/payorder-gateway/internal/api/problem"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// APIKeyHeader carries the merchant's secret key.
const APIKeyHeader = "x-api-key"

// MerchantAuth verifies the x-api-key header against the merchant named by
// the merchantPublicId route parameter.
func MerchantAuth(auth *service.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			publicID := chi.URLParam(r, "merchantPublicId")
			sess, err := auth.Merchant(r.Context(), publicID, r.Header.Get(APIKeyHeader))
			switch {
			case err == nil:
			case errors.Is(err, service.ErrUnauthorized):
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-api-key"), http.StatusText(http.StatusUnauthorized), "invalid merchant or api key")
				return
			case errors.Is(err, models.ErrStorageUnavailable):
				problem.Write(w, r, http.StatusServiceUnavailable, problem.Type("storage/unavailable"), http.StatusText(http.StatusServiceUnavailable), "storage temporarily unavailable")
				return
			default:
				zap.L().Error("merchant authentication failed", zap.String("merchant", publicID), zap.Error(err))
				problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/unavailable"), http.StatusText(http.StatusInternalServerError), "authentication unavailable")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionContextKey, sess)))
		})
	}
}

// SessionFromContext returns the authenticated merchant session.
func SessionFromContext(ctx context.Context) (service.Session, bool) {
	if ctx == nil {
		return service.Session{}, false
	}
	sess, ok := ctx.Value(sessionContextKey).(service.Session)
	return sess, ok
}
