package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Batch processing strategies.
const (
	StrategyDirect   = "direct"
	StrategyParallel = "parallel"
	StrategyBatched  = "batched"
)

// BatchConfig selects how many orders of one request run at once.
type BatchConfig struct {
	// ParallelMax is the largest request fanned out in full.
	ParallelMax int
	// MediumMax is the largest request processed in MediumChunk groups.
	MediumMax   int
	MediumChunk int
	// Larger requests up to Cap run in SmallChunk groups.
	SmallChunk int
	Cap        int
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.ParallelMax <= 0 {
		c.ParallelMax = 20
	}
	if c.MediumMax <= 0 {
		c.MediumMax = 100
	}
	if c.MediumChunk <= 0 {
		c.MediumChunk = 10
	}
	if c.SmallChunk <= 0 {
		c.SmallChunk = 5
	}
	if c.Cap <= 0 {
		c.Cap = 200
	}
	return c
}

// plan returns the strategy for n orders and the group size it runs with.
func (c BatchConfig) plan(n int) (string, int, error) {
	switch {
	case n <= 0:
		return "", 0, ErrEmptyBatch
	case n > c.Cap:
		return "", 0, fmt.Errorf("%w: %d orders, limit %d", ErrBatchTooLarge, n, c.Cap)
	case n == 1:
		return StrategyDirect, 1, nil
	case n <= c.ParallelMax:
		return StrategyParallel, n, nil
	case n <= c.MediumMax:
		return StrategyBatched, c.MediumChunk, nil
	default:
		return StrategyBatched, c.SmallChunk, nil
	}
}

// Cap is the largest accepted order count per request.
func (s *OrderService) Cap() int { return s.cfg.Batch.Cap }

type OrderResult struct {
	Index   int        `json:"index"`
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Field   string     `json:"field,omitempty"`
	Data    *OrderView `json:"data,omitempty"`
	Err     error      `json:"-"`
}

type BatchSummary struct {
	Total        int    `json:"total"`
	SuccessCount int    `json:"successCount"`
	FailureCount int    `json:"failureCount"`
	Strategy     string `json:"strategy"`
}

type BatchResult struct {
	Success bool          `json:"success"`
	Results []OrderResult `json:"results"`
	Summary BatchSummary  `json:"summary"`
}

// CreateBatch runs Create for every request. Orders succeed or fail on their
// own; one failure never rolls back another.
func (s *OrderService) CreateBatch(ctx context.Context, sess Session, clientIP string, reqs []OrderRequest) (BatchResult, error) {
	strategy, group, err := s.cfg.Batch.plan(len(reqs))
	if err != nil {
		return BatchResult{}, err
	}
	observability.IncrementBatch(strategy)

	results := make([]OrderResult, len(reqs))
	for start := 0; start < len(reqs); start += group {
		end := min(start+group, len(reqs))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = s.createOne(gctx, sess, clientIP, i, reqs[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	summary := BatchSummary{Total: len(reqs), Strategy: strategy}
	for _, r := range results {
		if r.Success {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
		}
	}
	zap.L().Info("order batch processed",
		zap.String("merchant_id", sess.Merchant.ID),
		zap.String("strategy", strategy),
		zap.Int("total", summary.Total),
		zap.Int("failed", summary.FailureCount),
	)
	return BatchResult{Success: summary.FailureCount == 0, Results: results, Summary: summary}, nil
}

func (s *OrderService) createOne(ctx context.Context, sess Session, clientIP string, idx int, req OrderRequest) OrderResult {
	view, err := s.Create(ctx, sess, clientIP, req)
	if err == nil {
		return OrderResult{Index: idx, Success: true, Message: "order created", Data: view}
	}
	res := OrderResult{Index: idx, Message: err.Error(), Err: err}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		res.Field, res.Message = verr.Field, verr.Message
	}
	return res
}

type batchEnvelope struct {
	Orders            []OrderRequest   `json:"orders"`
	GlobalOrderType   domain.OrderKind `json:"globalOrderType"`
	GlobalCallbackURL string           `json:"globalCallbackUrl"`
	GlobalBankID      string           `json:"globalBankId"`
}

// DecodeOrders accepts a single order object, a bare array of orders, or an
// object with an orders array and global defaults. batch reports whether the
// body used one of the list shapes.
func DecodeOrders(body []byte) (reqs []OrderRequest, batch bool, err error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, models.NewValidationError("", "request body is empty")
	}
	if body[0] == '[' {
		if err := json.Unmarshal(body, &reqs); err != nil {
			return nil, true, models.NewValidationError("", "invalid order array: "+err.Error())
		}
		return reqs, true, nil
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(body, &shape); err != nil {
		return nil, false, models.NewValidationError("", "invalid request body: "+err.Error())
	}
	if _, ok := shape["orders"]; !ok {
		var req OrderRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, false, models.NewValidationError("", "invalid order: "+err.Error())
		}
		return []OrderRequest{req}, false, nil
	}

	var env batchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, true, models.NewValidationError("orders", "invalid orders: "+err.Error())
	}
	for i := range env.Orders {
		o := &env.Orders[i]
		if o.Kind == "" {
			o.Kind = env.GlobalOrderType
		}
		if o.CallbackURL == "" {
			o.CallbackURL = env.GlobalCallbackURL
		}
		if o.BankID == "" {
			o.BankID = env.GlobalBankID
		}
	}
	return env.Orders, true, nil
}
