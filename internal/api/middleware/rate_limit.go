package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits requests per IP for unauthenticated routes.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(
				w,
				r,
				http.StatusTooManyRequests,
				problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests),
				fmt.Sprintf("Rate limit of %d req/s exceeded for this IP", rps),
			)
		}),
	)
}

// AuthRateLimiter limits authenticated staff using their ID as the key.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if staffID := StaffIDFromContext(r.Context()); staffID != "" {
				return staffID, nil
			}
			if sess, ok := SessionFromContext(r.Context()); ok {
				return sess.Merchant.ID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(
				w,
				r,
				http.StatusTooManyRequests,
				problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests),
				fmt.Sprintf("Rate limit of %d req/s exceeded for this caller", rps),
			)
		}),
	)
}

// BulkLimiter throttles multi-order requests per merchant. It is consulted
// by the order handler once the body shows more than one order.
type BulkLimiter struct {
	limiter *httprate.RateLimiter
}

func NewBulkLimiter(limit int, window time.Duration) *BulkLimiter {
	return &BulkLimiter{limiter: httprate.NewRateLimiter(limit, window,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(
				w,
				r,
				http.StatusTooManyRequests,
				problem.Type("orders/bulk-rate-limited"),
				http.StatusText(http.StatusTooManyRequests),
				fmt.Sprintf("at most %d bulk order requests per %s", limit, window),
			)
		}),
	)}
}

// Reject records one bulk request for merchantID and reports whether the
// 429 response has already been written.
func (b *BulkLimiter) Reject(w http.ResponseWriter, r *http.Request, merchantID string) bool {
	if b == nil {
		return false
	}
	return b.limiter.RespondOnLimit(w, r, "bulk:"+merchantID)
}
