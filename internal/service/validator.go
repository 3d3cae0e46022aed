package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/gateway"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"go.uber.org/zap"
)

var (
	accountNumberPattern = regexp.MustCompile(`^[A-Za-z0-9]{5,19}$`)
	ownerNamePattern     = regexp.MustCompile(`^[\p{L}\p{M}' ]+$`)
)

// OrderRequest is one order as submitted by a merchant.
type OrderRequest struct {
	Kind                 domain.OrderKind `json:"orderType"`
	Amount               json.RawMessage  `json:"amount"`
	BankID               string           `json:"bankId"`
	BankCode             string           `json:"bankCode"`
	ReceiveAccountNumber string           `json:"receiveAccountNumber"`
	ReceiveOwnerName     string           `json:"receiveOwnerName"`
	CallbackURL          string           `json:"callbackUrl"`
	SuccessURL           string           `json:"successUrl"`
	FailedURL            string           `json:"failedUrl"`
	CancelURL            string           `json:"cancelUrl"`
	MerchantOrderID      string           `json:"merchantOrderId"`
}

// ValidationResult carries the verdict plus the data validation resolved on
// the way, so creation does not look it up twice.
type ValidationResult struct {
	Valid           bool
	Message         string
	Field           string
	Amount          int64
	Bank            *models.Bank
	BankBIN         string
	BankDisplayName string
}

// Err returns the result as a *models.ValidationError, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return models.NewValidationError(r.Field, r.Message)
}

func invalid(field, format string, args ...any) ValidationResult {
	return ValidationResult{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validator checks an order request against merchant limits and reference data.
type Validator struct {
	storage   Storage
	directory gateway.Directory
}

func NewValidator(storage Storage, directory gateway.Directory) *Validator {
	return &Validator{storage: storage, directory: directory}
}

// Validate has no side effects. A non-nil error means a dependency failed and
// the request may be retried; rule violations come back as an invalid result.
func (v *Validator) Validate(ctx context.Context, req OrderRequest, merchant *models.Merchant, backend repository.Backend) (ValidationResult, error) {
	if !req.Kind.Valid() {
		return invalid("orderType", "orderType must be %q or %q", domain.KindDeposit, domain.KindWithdraw), nil
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return invalid("amount", "%s", err.Error()), nil
	}
	if strings.TrimSpace(req.CallbackURL) == "" {
		return invalid("callbackUrl", "callbackUrl is required"), nil
	}

	lo, hi := merchant.Limits(req.Kind)
	if lo > 0 && amount < lo {
		return invalid("amount", "amount %d is below the minimum %s amount %d", amount, req.Kind, lo), nil
	}
	if hi > 0 && amount > hi {
		return invalid("amount", "amount %d exceeds the maximum %s amount %d", amount, req.Kind, hi), nil
	}

	var result ValidationResult
	if req.Kind == domain.KindDeposit {
		result, err = v.validateDeposit(ctx, req, backend)
	} else {
		result, err = v.validateWithdraw(ctx, req, backend)
	}
	if err != nil || !result.Valid {
		return result, err
	}
	result.Amount = amount
	return result, nil
}

func (v *Validator) validateDeposit(ctx context.Context, req OrderRequest, backend repository.Backend) (ValidationResult, error) {
	if strings.TrimSpace(req.BankID) == "" {
		return invalid("bankId", "bankId is required for deposits"), nil
	}
	bank, err := v.storage.LookupBank(ctx, backend, req.BankID)
	if errors.Is(err, models.ErrNotFound) {
		return invalid("bankId", "bank %s is not registered", req.BankID), nil
	}
	if err != nil {
		return ValidationResult{}, fmt.Errorf("lookup bank: %w", err)
	}
	if !bank.Active {
		return invalid("bankId", "bank %s is not active", req.BankID), nil
	}
	return ValidationResult{
		Valid:           true,
		Bank:            bank,
		BankBIN:         bank.BIN,
		BankDisplayName: bank.DisplayName,
	}, nil
}

func (v *Validator) validateWithdraw(ctx context.Context, req OrderRequest, backend repository.Backend) (ValidationResult, error) {
	if strings.TrimSpace(req.BankCode) == "" {
		return invalid("bankCode", "bankCode is required for withdrawals"), nil
	}
	if !accountNumberPattern.MatchString(req.ReceiveAccountNumber) {
		return invalid("receiveAccountNumber", "receiveAccountNumber must be 5-19 letters or digits"), nil
	}
	if strings.TrimSpace(req.ReceiveOwnerName) == "" || !ownerNamePattern.MatchString(req.ReceiveOwnerName) {
		return invalid("receiveOwnerName", "receiveOwnerName may only contain letters, spaces and apostrophes"), nil
	}

	blocked, err := backend.IsBlacklisted(ctx, req.BankCode, req.ReceiveAccountNumber)
	switch {
	case err == nil && blocked:
		return invalid("receiveAccountNumber", "receiving account is blacklisted"), nil
	case err != nil && errors.Is(err, models.ErrStorageUnavailable) && v.storage.Tolerant():
		zap.L().Warn("blacklist check skipped", zap.String("bank_code", req.BankCode), zap.Error(err))
	case err != nil:
		return ValidationResult{}, fmt.Errorf("check blacklist: %w", err)
	}

	info, err := v.directory.Lookup(ctx, req.BankCode)
	if errors.Is(err, gateway.ErrUnsupportedBank) {
		return invalid("bankCode", "bank %s is not supported", req.BankCode), nil
	}
	if err != nil {
		return ValidationResult{}, fmt.Errorf("lookup bank directory: %w", err)
	}
	return ValidationResult{
		Valid:           true,
		BankBIN:         info.BIN,
		BankDisplayName: info.DisplayName(),
	}, nil
}
