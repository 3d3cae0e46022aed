package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/observability"
	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 8 * time.Second
	SignatureHeader = "X-Signature"
	APIKeyHeader    = "x-api-key"
)

// ErrWebhookRejected means the receiver answered with a non-2xx status.
var ErrWebhookRejected = errors.New("webhook rejected by receiver")

// Webhook is one merchant callback. Payload is a single object or an array
// of objects; OrderIDs lists the orders it reports on.
type Webhook struct {
	URL       string
	APIKey    string
	Payload   any
	OrderIDs  []string
	Scheduled bool
}

// WebhookSender posts signed merchant callbacks.
type WebhookSender struct {
	client  *http.Client
	timeout time.Duration
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookSender{client: &http.Client{}, timeout: timeout}
}

// Sign returns the X-Signature value for body.
func Sign(key string, body []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature in constant time.
func VerifySignature(key string, body []byte, signature string) bool {
	if key == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(key, body)))
}

// Send delivers w. Transport errors and timeouts are retried once unless the
// webhook is a scheduled redelivery; HTTP status errors are never retried.
func (s *WebhookSender) Send(ctx context.Context, w Webhook) error {
	body, err := json.Marshal(w.Payload)
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}

	attempts := 2
	if w.Scheduled {
		attempts = 1
	}
	var status int
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err = s.post(ctx, w, body)
		if err == nil || status != 0 || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			observability.IncrementWebhook("retry")
			zap.L().Warn("webhook transport error, retrying", zap.String("url", w.URL), zap.Error(err))
		}
	}

	outcome := "delivered"
	switch {
	case err != nil && status != 0:
		outcome = "rejected"
	case err != nil:
		outcome = "failed"
	}
	observability.IncrementWebhook(outcome)

	fields := []zap.Field{
		zap.String("url", w.URL),
		zap.Int("status", status),
		zap.Bool("scheduled", w.Scheduled),
		zap.String("outcome", outcome),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	for _, id := range w.OrderIDs {
		zap.L().Info("merchant webhook", append(fields, zap.String("order_id", id))...)
	}
	if len(w.OrderIDs) == 0 {
		zap.L().Info("merchant webhook", fields...)
	}
	return err
}

// post returns the HTTP status when the receiver answered, 0 otherwise.
func (s *WebhookSender) post(ctx context.Context, w Webhook, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return -1, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, w.APIKey)
	req.Header.Set(SignatureHeader, Sign(w.APIKey, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%w: status %d", ErrWebhookRejected, resp.StatusCode)
	}
	return resp.StatusCode, nil
}
