package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/payorder-gateway/internal/credential"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"go.uber.org/zap"
)

// Session is an authenticated merchant bound to the backend it was read from.
type Session struct {
	Merchant *models.Merchant
	Backend  repository.Backend
}

// Authenticator checks merchant API keys and staff passwords.
type Authenticator struct {
	storage Storage
	hasher  *credential.Hasher
}

func NewAuthenticator(storage Storage, hasher *credential.Hasher) *Authenticator {
	return &Authenticator{storage: storage, hasher: hasher}
}

// Merchant resolves publicID on the active backend and verifies apiKey
// against its stored hash.
func (a *Authenticator) Merchant(ctx context.Context, publicID, apiKey string) (Session, error) {
	if publicID == "" || apiKey == "" {
		return Session{}, ErrUnauthorized
	}
	backend, err := a.storage.Active(ctx)
	if err != nil {
		return Session{}, err
	}
	m, err := a.storage.LookupMerchant(ctx, backend, publicID)
	if errors.Is(err, models.ErrNotFound) {
		return Session{}, ErrUnauthorized
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup merchant: %w", err)
	}
	if !m.Active {
		return Session{}, ErrUnauthorized
	}
	ok, err := a.hasher.Verify(apiKey, m.APIKeyHash)
	if err != nil {
		zap.L().Warn("api key hash unreadable", zap.String("merchant_id", m.ID), zap.Error(err))
		return Session{}, ErrUnauthorized
	}
	if !ok {
		return Session{}, ErrUnauthorized
	}
	return Session{Merchant: m, Backend: backend}, nil
}

// Staff verifies a dashboard login.
func (a *Authenticator) Staff(ctx context.Context, username, password string) (*models.Staff, error) {
	backend, err := a.storage.Active(ctx)
	if err != nil {
		return nil, err
	}
	s, err := backend.GetStaffByUsername(ctx, username)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrInvalidLogin
	}
	if err != nil {
		return nil, fmt.Errorf("lookup staff: %w", err)
	}
	ok, err := a.hasher.Verify(password, s.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidLogin
	}
	return s, nil
}
